package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/libris-app/libris/internal/libris/logger"
	"github.com/libris-app/libris/internal/libris/models"
	"github.com/libris-app/libris/internal/libris/policy"
	"github.com/libris-app/libris/internal/libris/repository"
	"github.com/libris-app/libris/internal/libris/service"
)

// Handler handles all HTTP requests
type Handler struct {
	Repo       repository.Repository
	Gateways   map[string]service.Gateway
	Mailer     service.Mailer
	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	UploadDir  string
}

// NewHandler creates a new handler
func NewHandler(repo repository.Repository, gateways map[string]service.Gateway, mailer service.Mailer,
	jwtSecret string, accessTTL, refreshTTL time.Duration, uploadDir string) *Handler {
	return &Handler{
		Repo:       repo,
		Gateways:   gateways,
		Mailer:     mailer,
		JWTSecret:  jwtSecret,
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
		UploadDir:  uploadDir,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.Error().Err(err).Msg("encoding response failed")
		}
	}
}

func writeError(w http.ResponseWriter, status int, code models.ErrorCode, message string) {
	writeJSON(w, status, models.APIError{Code: code, Message: message})
}

func writeValidationError(w http.ResponseWriter, fields map[string]string) {
	writeJSON(w, http.StatusBadRequest, models.APIError{
		Code:    models.CodeValidation,
		Message: "validation failed",
		Fields:  fields,
	})
}

func serverError(w http.ResponseWriter, err error, msg string) {
	logger.Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, models.CodeInternal, "server error")
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func validEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// decorateLoan fills in the provisional days-late and fee for a loan
// that is still out. Returned loans keep the values frozen at return;
// waived loans stay at zero either way.
func decorateLoan(loan *models.Loan, now time.Time) {
	if loan.IsReturned {
		return
	}
	loan.DaysLate = policy.DaysLate(loan.DueDate, now)
	loan.LateFee = policy.LateFee(loan.DaysLate, loan.FeeWaived)
}

func decorateLoans(loans []models.Loan, now time.Time) {
	for i := range loans {
		decorateLoan(&loans[i], now)
	}
}
