package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/libris-app/libris/internal/libris/middleware"
	"github.com/libris-app/libris/internal/libris/models"
	"github.com/libris-app/libris/internal/libris/repository"
)

// BookReviews lists reviews for one book.
func (h *Handler) BookReviews(w http.ResponseWriter, r *http.Request) {
	bookID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid book id")
		return
	}

	reviews, err := h.Repo.GetBookReviews(r.Context(), bookID)
	if err != nil {
		serverError(w, err, "listing reviews failed")
		return
	}
	if reviews == nil {
		reviews = []models.Review{}
	}
	writeJSON(w, http.StatusOK, reviews)
}

// AddReview posts a review on a book.
func (h *Handler) AddReview(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req struct {
		BookID  int64  `json:"book_id"`
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid request body")
		return
	}

	fields := map[string]string{}
	if req.BookID == 0 {
		fields["book_id"] = "book_id is required"
	}
	if req.Rating < 1 || req.Rating > 5 {
		fields["rating"] = "rating must be between 1 and 5"
	}
	if len(req.Comment) > 2000 {
		fields["comment"] = "comment must be at most 2000 characters"
	}
	if len(fields) > 0 {
		writeValidationError(w, fields)
		return
	}

	ctx := r.Context()
	book, err := h.Repo.GetBookByID(ctx, req.BookID)
	if err != nil {
		serverError(w, err, "fetching book failed")
		return
	}
	if book == nil {
		writeError(w, http.StatusNotFound, models.CodeNotFound, "book not found")
		return
	}

	review := &models.Review{
		BookID:  req.BookID,
		UserID:  userID,
		Rating:  req.Rating,
		Comment: req.Comment,
	}
	if err := h.Repo.CreateReview(ctx, review); err != nil {
		serverError(w, err, "creating review failed")
		return
	}

	writeJSON(w, http.StatusCreated, review)
}

// DeleteReview removes a review the caller owns (admins may remove
// any).
func (h *Handler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	role, _ := middleware.GetRole(r.Context())

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid review id")
		return
	}

	ctx := r.Context()
	review, err := h.Repo.GetReviewByID(ctx, id)
	if err != nil {
		serverError(w, err, "fetching review failed")
		return
	}
	if review == nil {
		writeError(w, http.StatusNotFound, models.CodeNotFound, "review not found")
		return
	}
	if review.UserID != userID && role != models.RoleAdmin {
		writeError(w, http.StatusForbidden, models.CodeForbidden, "not your review")
		return
	}

	if err := h.Repo.DeleteReview(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, models.CodeNotFound, "review not found")
			return
		}
		serverError(w, err, "deleting review failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MyReviews lists the caller's reviews.
func (h *Handler) MyReviews(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	reviews, err := h.Repo.GetUserReviews(r.Context(), userID)
	if err != nil {
		serverError(w, err, "listing reviews failed")
		return
	}
	if reviews == nil {
		reviews = []models.Review{}
	}
	writeJSON(w, http.StatusOK, reviews)
}

// AdminListReviews lists every review.
func (h *Handler) AdminListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.Repo.ListReviews(r.Context())
	if err != nil {
		serverError(w, err, "listing reviews failed")
		return
	}
	if reviews == nil {
		reviews = []models.Review{}
	}
	writeJSON(w, http.StatusOK, reviews)
}
