package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/libris-app/libris/internal/libris/middleware"
	"github.com/libris-app/libris/internal/libris/models"
	"github.com/libris-app/libris/internal/libris/repository"
	"golang.org/x/crypto/bcrypt"
)

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
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
	if len(req.Password) < 8 {
		fields["password"] = "password must be at least 8 characters"
	}
	if len(fields) > 0 {
		writeValidationError(w, fields)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		serverError(w, err, "hashing password failed")
		return
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: string(hashedPassword),
		Role:         models.RoleMember,
	}

	ctx := r.Context()
	if err := h.Repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			writeError(w, http.StatusConflict, models.CodeConflict, "email already registered")
			return
		}
		serverError(w, err, "creating user failed")
		return
	}

	pair, err := h.issueTokens(r, user)
	if err != nil {
		serverError(w, err, "issuing tokens failed")
		return
	}

	writeJSON(w, http.StatusCreated, pair)
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "email and password are required")
		return
	}

	ctx := r.Context()
	user, err := h.Repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		serverError(w, err, "looking up user failed")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, models.CodeInvalidCredentials, "invalid credentials")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, models.CodeInvalidCredentials, "invalid credentials")
		return
	}

	pair, err := h.issueTokens(r, user)
	if err != nil {
		serverError(w, err, "issuing tokens failed")
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// Refresh rotates the refresh token and issues a fresh access token.
// Only an unknown, revoked or expired refresh token yields 401
// invalid_session; storage failures are 500 so clients never mistake a
// transient error for a dead session.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "refresh_token is required")
		return
	}

	// Issued tokens are uuids; anything else cannot be in the store
	// and must read as an unknown session, not a storage error.
	if _, err := uuid.Parse(req.RefreshToken); err != nil {
		writeError(w, http.StatusUnauthorized, models.CodeInvalidSession, "session expired, log in again")
		return
	}

	ctx := r.Context()
	stored, err := h.Repo.GetRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		serverError(w, err, "looking up refresh token failed")
		return
	}
	if stored == nil || stored.ExpiresAt.Before(time.Now()) {
		writeError(w, http.StatusUnauthorized, models.CodeInvalidSession, "session expired, log in again")
		return
	}

	user, err := h.Repo.GetUserByID(ctx, stored.UserID)
	if err != nil {
		serverError(w, err, "looking up user failed")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, models.CodeInvalidSession, "session expired, log in again")
		return
	}

	// Rotation: the old token dies with this refresh.
	if err := h.Repo.DeleteRefreshToken(ctx, stored.Token); err != nil && !errors.Is(err, repository.ErrTokenNotFound) {
		serverError(w, err, "rotating refresh token failed")
		return
	}

	pair, err := h.issueTokens(r, user)
	if err != nil {
		serverError(w, err, "issuing tokens failed")
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// Logout revokes the presented refresh token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "refresh_token is required")
		return
	}

	// A token that was never issued has nothing to revoke.
	if _, err := uuid.Parse(req.RefreshToken); err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	err := h.Repo.DeleteRefreshToken(r.Context(), req.RefreshToken)
	if err != nil && !errors.Is(err, repository.ErrTokenNotFound) {
		serverError(w, err, "revoking refresh token failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) issueTokens(r *http.Request, user *models.User) (*models.TokenPair, error) {
	access, err := middleware.GenerateToken(user, h.JWTSecret, h.AccessTTL)
	if err != nil {
		return nil, err
	}

	refresh := &models.RefreshToken{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(h.RefreshTTL),
	}
	if err := h.Repo.CreateRefreshToken(r.Context(), refresh); err != nil {
		return nil, err
	}

	return &models.TokenPair{AccessToken: access, RefreshToken: refresh.Token}, nil
}
