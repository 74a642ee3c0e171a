package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/libris-app/libris/internal/libris/logger"
	"github.com/libris-app/libris/internal/libris/models"
	"github.com/libris-app/libris/internal/libris/repository"
)

// SendMessage accepts a contact-form message. Validation runs before
// any side effect and reports per-field problems.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Email   string `json:"email"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
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
	if len(req.Subject) < 3 || len(req.Subject) > 200 {
		fields["subject"] = "subject must be between 3 and 200 characters"
	}
	if len(req.Body) < 10 || len(req.Body) > 2000 {
		fields["body"] = "message must be between 10 and 2000 characters"
	}
	if len(fields) > 0 {
		writeValidationError(w, fields)
		return
	}

	msg := &models.ContactMessage{
		Name:    req.Name,
		Email:   req.Email,
		Subject: req.Subject,
		Body:    req.Body,
	}
	if err := h.Repo.CreateMessage(r.Context(), msg); err != nil {
		serverError(w, err, "saving message failed")
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// AdminListMessages lists contact messages, optionally by status.
func (h *Handler) AdminListMessages(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", models.MessageStatusNew, models.MessageStatusRead, models.MessageStatusReplied:
	default:
		writeError(w, http.StatusBadRequest, models.CodeValidation, "unknown status filter")
		return
	}

	messages, err := h.Repo.ListMessages(r.Context(), status)
	if err != nil {
		serverError(w, err, "listing messages failed")
		return
	}
	if messages == nil {
		messages = []models.ContactMessage{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// MarkMessageRead marks a message read.
func (h *Handler) MarkMessageRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid message id")
		return
	}

	if err := h.Repo.MarkMessageRead(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, models.CodeNotFound, "message not found")
			return
		}
		serverError(w, err, "marking message read failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ReplyMessage stores the reply and emails it to the sender. The mail
// send is best-effort: the reply is persisted even when the relay is
// down.
func (h *Handler) ReplyMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid message id")
		return
	}

	var req struct {
		Reply string `json:"reply"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Reply) < 2 {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "reply text is required")
		return
	}

	ctx := r.Context()
	msg, err := h.Repo.GetMessageByID(ctx, id)
	if err != nil {
		serverError(w, err, "fetching message failed")
		return
	}
	if msg == nil {
		writeError(w, http.StatusNotFound, models.CodeNotFound, "message not found")
		return
	}

	if err := h.Repo.ReplyMessage(ctx, id, req.Reply, time.Now()); err != nil {
		serverError(w, err, "saving reply failed")
		return
	}

	if err := h.Mailer.Send(ctx, msg.Email, "Re: "+msg.Subject, req.Reply); err != nil {
		logger.Warn().Err(err).Int64("message_id", id).Msg("reply mail failed")
	}

	w.WriteHeader(http.StatusNoContent)
}

// SendUserMessage emails an arbitrary message to a registered user.
func (h *Handler) SendUserMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  string `json:"user_id"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid request body")
		return
	}

	fields := map[string]string{}
	if req.UserID == "" {
		fields["user_id"] = "user_id is required"
	}
	if len(req.Subject) < 3 || len(req.Subject) > 200 {
		fields["subject"] = "subject must be between 3 and 200 characters"
	}
	if len(req.Body) < 2 {
		fields["body"] = "body is required"
	}
	if len(fields) > 0 {
		writeValidationError(w, fields)
		return
	}

	ctx := r.Context()
	user, err := h.Repo.GetUserByID(ctx, req.UserID)
	if err != nil {
		serverError(w, err, "looking up user failed")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, models.CodeNotFound, "user not found")
		return
	}

	if err := h.Mailer.Send(ctx, user.Email, req.Subject, req.Body); err != nil {
		serverError(w, err, "sending mail failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UnreadCount returns the number of unread contact messages.
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.Repo.UnreadMessageCount(r.Context())
	if err != nil {
		serverError(w, err, "counting unread messages failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": count})
}
