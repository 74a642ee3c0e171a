package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/libris-app/libris/internal/libris/logger"
	"github.com/libris-app/libris/internal/libris/middleware"
	"github.com/libris-app/libris/internal/libris/models"
	"github.com/libris-app/libris/internal/libris/repository"
)

// Checkout creates a payment session for a loan's late fee and
// returns the gateway redirect URL. The session row is the pending
// payment marker that Confirm later consumes.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req struct {
		LoanID   int64  `json:"loan_id"`
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LoanID == 0 {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "loan_id is required")
		return
	}

	gateway, ok := h.Gateways[req.Provider]
	if !ok {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "unknown payment provider")
		return
	}

	ctx := r.Context()
	loan, err := h.Repo.GetLoanByID(ctx, req.LoanID)
	if err != nil {
		serverError(w, err, "fetching loan failed")
		return
	}
	if loan == nil {
		writeError(w, http.StatusNotFound, models.CodeNotFound, "loan not found")
		return
	}
	if loan.UserID != userID {
		writeError(w, http.StatusForbidden, models.CodeForbidden, "not your loan")
		return
	}
	if loan.LateFeePaid {
		writeError(w, http.StatusConflict, models.CodeAlreadyPaid, "late fee already paid")
		return
	}

	// The fee is provisional until the book comes back; only a fee
	// frozen by the return can be collected.
	if !loan.IsReturned {
		writeError(w, http.StatusConflict, models.CodeNoFeeDue, "fee is not final until the loan is returned")
		return
	}
	if loan.FeeWaived || !loan.LateFee.IsPositive() {
		writeError(w, http.StatusConflict, models.CodeNoFeeDue, "no late fee due on this loan")
		return
	}

	session := &models.PaymentSession{
		ID:       uuid.NewString(),
		LoanID:   loan.ID,
		UserID:   userID,
		Provider: gateway.Name(),
		Amount:   loan.LateFee,
	}
	if err := h.Repo.CreatePaymentSession(ctx, session); err != nil {
		serverError(w, err, "creating payment session failed")
		return
	}

	checkoutURL, err := gateway.CreateCheckout(ctx, session)
	if err != nil {
		// Leave no marker behind for a checkout that never started.
		if delErr := h.Repo.DeletePaymentSession(ctx, session.ID); delErr != nil {
			logger.Warn().Err(delErr).Str("session_id", session.ID).Msg("cleaning up payment session failed")
		}
		serverError(w, err, "creating gateway checkout failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id":   session.ID,
		"checkout_url": checkoutURL,
	})
}

// Confirm completes a payment after the gateway redirect. It is
// idempotent per loan: the pending session is consumed before the
// response is written, and a repeat call for an already-paid loan
// reports success without re-processing.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req struct {
		LoanID int64 `json:"loan_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LoanID == 0 {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "loan_id is required")
		return
	}

	ctx := r.Context()
	loan, err := h.Repo.GetLoanByID(ctx, req.LoanID)
	if err != nil {
		serverError(w, err, "fetching loan failed")
		return
	}
	if loan == nil {
		writeError(w, http.StatusNotFound, models.CodeNotFound, "loan not found")
		return
	}
	if loan.UserID != userID {
		writeError(w, http.StatusForbidden, models.CodeForbidden, "not your loan")
		return
	}

	session, err := h.Repo.GetPaymentSessionByLoan(ctx, req.LoanID)
	if err != nil {
		serverError(w, err, "fetching payment session failed")
		return
	}

	if session == nil {
		if loan.LateFeePaid {
			// Duplicate confirmation; already settled.
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"loan_id":      loan.ID,
				"already_paid": true,
			})
			return
		}
		writeError(w, http.StatusNotFound, models.CodeNotFound, "no pending payment for this loan")
		return
	}

	// Consume the marker first so a retry can never double-process.
	if err := h.Repo.DeletePaymentSession(ctx, session.ID); err != nil {
		serverError(w, err, "consuming payment session failed")
		return
	}

	err = h.Repo.MarkLoanPaid(ctx, req.LoanID, session.Provider, time.Now())
	if err != nil && !errors.Is(err, repository.ErrAlreadyPaid) {
		serverError(w, err, "marking loan paid failed")
		return
	}

	logger.Info().Int64("loan_id", loan.ID).Str("provider", session.Provider).Msg("late fee paid")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"loan_id":      loan.ID,
		"already_paid": errors.Is(err, repository.ErrAlreadyPaid),
	})
}

// CancelPayment drops the pending session after a gateway cancel
// redirect. Cancelling with no session pending is a no-op.
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req struct {
		LoanID int64 `json:"loan_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LoanID == 0 {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "loan_id is required")
		return
	}

	ctx := r.Context()
	session, err := h.Repo.GetPaymentSessionByLoan(ctx, req.LoanID)
	if err != nil {
		serverError(w, err, "fetching payment session failed")
		return
	}
	if session != nil {
		if session.UserID != userID {
			writeError(w, http.StatusForbidden, models.CodeForbidden, "not your payment")
			return
		}
		if err := h.Repo.DeletePaymentSession(ctx, session.ID); err != nil {
			serverError(w, err, "dropping payment session failed")
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
