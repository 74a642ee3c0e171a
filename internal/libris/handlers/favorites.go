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

// AddFavorite bookmarks a book; adding it twice is a no-op.
func (h *Handler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req struct {
		BookID int64 `json:"book_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BookID == 0 {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "book_id is required")
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

	if err := h.Repo.AddFavorite(ctx, userID, req.BookID); err != nil {
		serverError(w, err, "adding favorite failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveFavorite drops a bookmark.
func (h *Handler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	bookID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid book id")
		return
	}

	if err := h.Repo.RemoveFavorite(r.Context(), userID, bookID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, models.CodeNotFound, "favorite not found")
			return
		}
		serverError(w, err, "removing favorite failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MyFavorites lists the caller's bookmarked books.
func (h *Handler) MyFavorites(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	favorites, err := h.Repo.GetUserFavorites(r.Context(), userID)
	if err != nil {
		serverError(w, err, "listing favorites failed")
		return
	}
	if favorites == nil {
		favorites = []models.Favorite{}
	}
	writeJSON(w, http.StatusOK, favorites)
}
