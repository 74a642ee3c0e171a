package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/libris-app/libris/internal/libris/models"
)

// Payment session repository methods. A session is the server-side
// pending-payment marker for one loan; the loan_id UNIQUE constraint
// guarantees at most one pending payment per loan.

func (r *PostgresRepository) CreatePaymentSession(ctx context.Context, session *models.PaymentSession) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO payment_sessions (id, loan_id, user_id, provider, amount)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (loan_id) DO UPDATE SET
			id = EXCLUDED.id,
			provider = EXCLUDED.provider,
			amount = EXCLUDED.amount,
			created_at = CURRENT_TIMESTAMP
		 RETURNING created_at`,
		session.ID, session.LoanID, session.UserID, session.Provider, session.Amount,
	).Scan(&session.CreatedAt)
}

func (r *PostgresRepository) GetPaymentSessionByLoan(ctx context.Context, loanID int64) (*models.PaymentSession, error) {
	s := &models.PaymentSession{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, loan_id, user_id, provider, amount, created_at
		 FROM payment_sessions WHERE loan_id = $1`, loanID,
	).Scan(&s.ID, &s.LoanID, &s.UserID, &s.Provider, &s.Amount, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// DeletePaymentSession consumes the marker. Deleting a session that is
// already gone is not an error; confirmation and cancellation may race
// and the loser must see a clean no-op.
func (r *PostgresRepository) DeletePaymentSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM payment_sessions WHERE id = $1", id)
	return err
}

// DeleteStalePaymentSessions sweeps markers whose user never came back
// from the gateway.
func (r *PostgresRepository) DeleteStalePaymentSessions(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM payment_sessions WHERE created_at < $1", olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
