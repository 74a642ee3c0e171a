package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/libris-app/libris/internal/libris/middleware"
	"github.com/libris-app/libris/internal/libris/models"
	"github.com/libris-app/libris/internal/libris/policy"
	"github.com/libris-app/libris/internal/libris/repository"
)

// Borrow starts a new loan. The eligibility guard runs first so the
// user gets a specific rejection code; the repository re-checks stock
// and the loan limit authoritatively inside the borrow transaction.
func (h *Handler) Borrow(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, models.CodeUnauthorized, "authentication required")
		return
	}

	var req struct {
		BookID int64 `json:"book_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BookID == 0 {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "book_id is required")
		return
	}

	ctx := r.Context()
	now := time.Now()

	user, err := h.Repo.GetUserByID(ctx, userID)
	if err != nil || user == nil {
		serverError(w, err, "looking up user failed")
		return
	}

	loans, err := h.Repo.GetUserLoans(ctx, userID)
	if err != nil {
		serverError(w, err, "looking up loans failed")
		return
	}

	states := make([]policy.LoanState, 0, len(loans))
	for _, l := range loans {
		states = append(states, policy.LoanState{
			Returned: l.IsReturned,
			Fee:      l.LateFee,
			FeePaid:  l.LateFeePaid,
			Waived:   l.FeeWaived,
		})
	}

	if decision := policy.CheckEligibility(user.BanUntil, states, now); !decision.Eligible() {
		h.rejectBorrow(w, decision)
		return
	}

	loan, err := h.Repo.BorrowBook(ctx, userID, req.BookID, now)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrBookNotFound):
			writeError(w, http.StatusNotFound, models.CodeNotFound, "book not found")
		case errors.Is(err, repository.ErrOutOfStock):
			writeError(w, http.StatusConflict, models.CodeOutOfStock, "no copies available")
		case errors.Is(err, repository.ErrLoanLimit):
			writeError(w, http.StatusConflict, models.CodeLoanLimit,
				fmt.Sprintf("only %d concurrent loan(s) allowed", policy.MaxActiveLoans))
		default:
			serverError(w, err, "borrowing failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, loan)
}

func (h *Handler) rejectBorrow(w http.ResponseWriter, decision policy.Decision) {
	switch decision.Reason {
	case policy.ReasonBanned:
		writeJSON(w, http.StatusForbidden, models.APIError{
			Code:     models.CodeBanned,
			Message:  "borrowing is suspended until the ban ends",
			BanUntil: decision.BanUntil.Format(time.RFC3339),
		})
	case policy.ReasonUnpaidFees:
		writeError(w, http.StatusForbidden, models.CodeUnpaidFees, "unpaid late fees outstanding")
	case policy.ReasonLoanLimit:
		writeError(w, http.StatusConflict, models.CodeLoanLimit,
			fmt.Sprintf("only %d concurrent loan(s) allowed", policy.MaxActiveLoans))
	default:
		writeError(w, http.StatusInternalServerError, models.CodeInternal, "server error")
	}
}

// Return finalizes a loan the caller owns (admins may return any).
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	role, _ := middleware.GetRole(r.Context())

	loanID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid loan id")
		return
	}

	ctx := r.Context()
	loan, err := h.Repo.GetLoanByID(ctx, loanID)
	if err != nil {
		serverError(w, err, "fetching loan failed")
		return
	}
	if loan == nil {
		writeError(w, http.StatusNotFound, models.CodeNotFound, "loan not found")
		return
	}
	if loan.UserID != userID && role != models.RoleAdmin {
		writeError(w, http.StatusForbidden, models.CodeForbidden, "not your loan")
		return
	}

	returned, err := h.Repo.ReturnLoan(ctx, loanID, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrLoanNotFound):
			writeError(w, http.StatusNotFound, models.CodeNotFound, "loan not found")
		case errors.Is(err, repository.ErrAlreadyReturned):
			writeError(w, http.StatusConflict, models.CodeAlreadyReturned, "loan already returned")
		default:
			serverError(w, err, "returning loan failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, returned)
}

// MyLoans lists the caller's loans with provisional fees on active
// ones.
func (h *Handler) MyLoans(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	loans, err := h.Repo.GetUserLoans(r.Context(), userID)
	if err != nil {
		serverError(w, err, "listing loans failed")
		return
	}

	decorateLoans(loans, time.Now())
	if loans == nil {
		loans = []models.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

// MyFees lists the caller's late-fee history.
func (h *Handler) MyFees(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	loans, err := h.Repo.GetUserFeeHistory(r.Context(), userID)
	if err != nil {
		serverError(w, err, "listing fee history failed")
		return
	}

	decorateLoans(loans, time.Now())
	if loans == nil {
		loans = []models.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

// AdminListLoans lists all loans with optional filters.
func (h *Handler) AdminListLoans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.LoanFilter{UserID: q.Get("user_id")}

	if v := q.Get("returned"); v != "" {
		returned := v == "true"
		filter.Returned = &returned
	}
	filter.Overdue = q.Get("overdue") == "true"

	now := time.Now()
	loans, err := h.Repo.ListLoans(r.Context(), filter, now)
	if err != nil {
		serverError(w, err, "listing loans failed")
		return
	}

	decorateLoans(loans, now)
	if loans == nil {
		loans = []models.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

// AdminFeeStats aggregates late fees across all loans.
func (h *Handler) AdminFeeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Repo.FeeStats(r.Context())
	if err != nil {
		serverError(w, err, "computing fee stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// WaiveFee zeroes a loan's late fee permanently.
func (h *Handler) WaiveFee(w http.ResponseWriter, r *http.Request) {
	loanID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid loan id")
		return
	}

	if err := h.Repo.WaiveLoanFee(r.Context(), loanID); err != nil {
		if errors.Is(err, repository.ErrLoanNotFound) {
			writeError(w, http.StatusNotFound, models.CodeNotFound, "loan not found")
			return
		}
		serverError(w, err, "waiving fee failed")
		return
	}

	loan, err := h.Repo.GetLoanByID(r.Context(), loanID)
	if err != nil || loan == nil {
		serverError(w, err, "fetching waived loan failed")
		return
	}

	writeJSON(w, http.StatusOK, loan)
}
