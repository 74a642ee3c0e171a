package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/libris-app/libris/internal/libris/middleware"
	"github.com/libris-app/libris/internal/libris/models"
	"github.com/libris-app/libris/internal/libris/repository"
	"golang.org/x/crypto/bcrypt"
)

// Me returns the caller's profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	user, err := h.Repo.GetUserByID(r.Context(), userID)
	if err != nil || user == nil {
		serverError(w, err, "looking up user failed")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// UpdateMe updates the caller's name and email.
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid request body")
		return
	}

	fields := map[string]string{}
	if len(req.Name) < 2 || len(req.Name) > 100 {
		fields["name"] = "name must be between 2 and 100 characters"
	}
	if !validEmail(req.Email) {
		fields["email"] = "invalid email address"
	}
	if len(fields) > 0 {
		writeValidationError(w, fields)
		return
	}

	ctx := r.Context()
	if err := h.Repo.UpdateUserProfile(ctx, userID, req.Name, req.Email); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, models.CodeNotFound, "user not found")
			return
		}
		serverError(w, err, "updating profile failed")
		return
	}

	user, err := h.Repo.GetUserByID(ctx, userID)
	if err != nil || user == nil {
		serverError(w, err, "looking up user failed")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ChangePassword rotates the caller's password after verifying the
// old one and revokes all refresh tokens.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid request body")
		return
	}
	if len(req.NewPassword) < 8 {
		writeValidationError(w, map[string]string{"new_password": "password must be at least 8 characters"})
		return
	}

	ctx := r.Context()
	user, err := h.Repo.GetUserByID(ctx, userID)
	if err != nil || user == nil {
		serverError(w, err, "looking up user failed")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		writeError(w, http.StatusUnauthorized, models.CodeInvalidCredentials, "old password is wrong")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		serverError(w, err, "hashing password failed")
		return
	}

	if err := h.Repo.UpdateUserPassword(ctx, userID, string(hashed)); err != nil {
		serverError(w, err, "updating password failed")
		return
	}

	// Old sessions die with the old password.
	if err := h.Repo.DeleteUserRefreshTokens(ctx, userID); err != nil {
		serverError(w, err, "revoking sessions failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AdminListUsers lists all users.
func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Repo.ListUsers(r.Context())
	if err != nil {
		serverError(w, err, "listing users failed")
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// AdminUpdateUser changes a user's role or ban state. A ban needs a
// positive day count; admins cannot be banned.
func (h *Handler) AdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Role     *string `json:"role"`
		BanDays  *int    `json:"ban_days"`
		ClearBan bool    `json:"clear_ban"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid request body")
		return
	}

	ctx := r.Context()
	user, err := h.Repo.GetUserByID(ctx, id)
	if err != nil {
		serverError(w, err, "looking up user failed")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, models.CodeNotFound, "user not found")
		return
	}

	if req.Role != nil {
		if *req.Role != models.RoleMember && *req.Role != models.RoleAdmin {
			writeValidationError(w, map[string]string{"role": "role must be member or admin"})
			return
		}
		if err := h.Repo.UpdateUserRole(ctx, id, *req.Role); err != nil {
			serverError(w, err, "updating role failed")
			return
		}
		user.Role = *req.Role
	}

	switch {
	case req.ClearBan:
		if err := h.Repo.SetUserBan(ctx, id, nil); err != nil {
			serverError(w, err, "clearing ban failed")
			return
		}
		user.BanUntil = nil
	case req.BanDays != nil:
		if *req.BanDays < 1 {
			writeValidationError(w, map[string]string{"ban_days": "ban must be at least 1 day"})
			return
		}
		if user.Role == models.RoleAdmin {
			writeError(w, http.StatusConflict, models.CodeForbidden, "admins cannot be banned")
			return
		}
		until := time.Now().AddDate(0, 0, *req.BanDays)
		if err := h.Repo.SetUserBan(ctx, id, &until); err != nil {
			serverError(w, err, "imposing ban failed")
			return
		}
		user.BanUntil = &until
	}

	writeJSON(w, http.StatusOK, user)
}

// AdminDeleteUser removes a user.
func (h *Handler) AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Repo.DeleteUser(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, repository.ErrUserNotFound):
			writeError(w, http.StatusNotFound, models.CodeNotFound, "user not found")
		case errors.Is(err, repository.ErrUserHasLoans):
			writeError(w, http.StatusConflict, models.CodeConflict, "user has loan history and cannot be deleted")
		default:
			serverError(w, err, "deleting user failed")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
