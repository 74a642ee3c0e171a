package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/libris-app/libris/internal/libris/models"
	"github.com/libris-app/libris/internal/libris/policy"
)

const loanColumns = `id, user_id, book_id, loan_date, due_date, return_date, is_returned,
	days_late, late_fee, fee_waived, late_fee_paid, late_fee_payment_date, payment_method,
	reminder_sent, last_notice_days_late`

// loanBookColumns joins the book row in; used by the user-facing
// listings so clients get the title without a second round trip.
const loanBookColumns = `l.id, l.user_id, l.book_id, l.loan_date, l.due_date, l.return_date, l.is_returned,
	l.days_late, l.late_fee, l.fee_waived, l.late_fee_paid, l.late_fee_payment_date, l.payment_method,
	l.reminder_sent, l.last_notice_days_late,
	b.id, b.title, b.author, b.category, b.isbn, b.image_url, b.stock, b.published_year, b.created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	l := &models.Loan{}
	err := row.Scan(&l.ID, &l.UserID, &l.BookID, &l.LoanDate, &l.DueDate, &l.ReturnDate,
		&l.IsReturned, &l.DaysLate, &l.LateFee, &l.FeeWaived, &l.LateFeePaid,
		&l.LateFeePaymentDate, &l.PaymentMethod, &l.ReminderSent, &l.LastNoticeDaysLate)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func scanLoanWithBook(row rowScanner) (*models.Loan, error) {
	l := &models.Loan{Book: &models.Book{}}
	b := l.Book
	err := row.Scan(&l.ID, &l.UserID, &l.BookID, &l.LoanDate, &l.DueDate, &l.ReturnDate,
		&l.IsReturned, &l.DaysLate, &l.LateFee, &l.FeeWaived, &l.LateFeePaid,
		&l.LateFeePaymentDate, &l.PaymentMethod, &l.ReminderSent, &l.LastNoticeDaysLate,
		&b.ID, &b.Title, &b.Author, &b.Category, &b.ISBN, &b.ImageURL, &b.Stock,
		&b.PublishedYear, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// BorrowBook creates a loan inside a transaction. Stock and the
// concurrent-loan limit are re-checked here with the book row locked;
// the handler's eligibility guard is advisory, this is authoritative.
func (r *PostgresRepository) BorrowBook(ctx context.Context, userID string, bookID int64, now time.Time) (*models.Loan, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var stock int
	err = tx.QueryRowContext(ctx, "SELECT stock FROM books WHERE id = $1 FOR UPDATE", bookID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, err
	}
	if stock <= 0 {
		return nil, ErrOutOfStock
	}

	var active int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM loans WHERE user_id = $1 AND NOT is_returned",
		userID,
	).Scan(&active)
	if err != nil {
		return nil, err
	}
	if active >= policy.MaxActiveLoans {
		return nil, ErrLoanLimit
	}

	if _, err := tx.ExecContext(ctx, "UPDATE books SET stock = stock - 1 WHERE id = $1", bookID); err != nil {
		return nil, err
	}

	loan := &models.Loan{
		UserID:   userID,
		BookID:   bookID,
		LoanDate: now,
		DueDate:  policy.DueDate(now),
	}
	err = tx.QueryRowContext(ctx,
		"INSERT INTO loans (user_id, book_id, loan_date, due_date) VALUES ($1, $2, $3, $4) RETURNING id",
		loan.UserID, loan.BookID, loan.LoanDate, loan.DueDate,
	).Scan(&loan.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return loan, nil
}

// ReturnLoan finalizes a loan. Days late and the fee are frozen at the
// return instant; a waived loan stays at zero and an already-settled
// fee keeps the settled amount. A late return bans the
// borrower until returnDate + daysLate * BanMultiplier days, replacing
// any earlier ban end. Admins are never banned.
func (r *PostgresRepository) ReturnLoan(ctx context.Context, loanID int64, now time.Time) (*models.Loan, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	loan, err := scanLoan(tx.QueryRowContext(ctx,
		"SELECT "+loanColumns+" FROM loans WHERE id = $1 FOR UPDATE", loanID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}
	if loan.IsReturned {
		return nil, ErrAlreadyReturned
	}

	daysLate := policy.DaysLate(loan.DueDate, now)
	// A fee that was already settled stays at the settled amount.
	fee := loan.LateFee
	if !loan.LateFeePaid {
		fee = policy.LateFee(daysLate, loan.FeeWaived)
	}

	loan.ReturnDate = &now
	loan.IsReturned = true
	loan.DaysLate = daysLate
	loan.LateFee = fee

	_, err = tx.ExecContext(ctx,
		`UPDATE loans SET return_date = $1, is_returned = TRUE, days_late = $2, late_fee = $3
		 WHERE id = $4`,
		now, daysLate, fee, loanID,
	)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "UPDATE books SET stock = stock + 1 WHERE id = $1", loan.BookID); err != nil {
		return nil, err
	}

	if banUntil := policy.BanUntil(now, daysLate); !banUntil.IsZero() {
		_, err = tx.ExecContext(ctx,
			"UPDATE users SET ban_until = $1 WHERE id = $2 AND role <> $3",
			banUntil, loan.UserID, models.RoleAdmin,
		)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return loan, nil
}

func (r *PostgresRepository) GetLoanByID(ctx context.Context, id int64) (*models.Loan, error) {
	loan, err := scanLoan(r.db.QueryRowContext(ctx,
		"SELECT "+loanColumns+" FROM loans WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return loan, nil
}

func (r *PostgresRepository) GetUserLoans(ctx context.Context, userID string) ([]models.Loan, error) {
	return r.queryLoansWithBook(ctx,
		`SELECT `+loanBookColumns+` FROM loans l JOIN books b ON b.id = l.book_id
		 WHERE l.user_id = $1 ORDER BY l.loan_date DESC`, userID)
}

// GetUserFeeHistory returns the user's loans that ever carried a fee:
// accrued, paid or waived.
func (r *PostgresRepository) GetUserFeeHistory(ctx context.Context, userID string) ([]models.Loan, error) {
	return r.queryLoansWithBook(ctx,
		`SELECT `+loanBookColumns+` FROM loans l JOIN books b ON b.id = l.book_id
		 WHERE l.user_id = $1 AND (l.late_fee > 0 OR l.late_fee_paid OR l.fee_waived)
		 ORDER BY l.loan_date DESC`, userID)
}

func (r *PostgresRepository) ListLoans(ctx context.Context, filter LoanFilter, now time.Time) ([]models.Loan, error) {
	query := "SELECT " + loanColumns + " FROM loans WHERE ($1 = '' OR user_id::text = $1)"
	args := []interface{}{filter.UserID}

	if filter.Returned != nil {
		if *filter.Returned {
			query += " AND is_returned"
		} else {
			query += " AND NOT is_returned"
		}
	}
	if filter.Overdue {
		query += " AND NOT is_returned AND due_date < $2"
		args = append(args, now)
	}
	query += " ORDER BY loan_date DESC"

	return r.queryLoans(ctx, query, args...)
}

func (r *PostgresRepository) queryLoans(ctx context.Context, query string, args ...interface{}) ([]models.Loan, error) {
	return r.collectLoans(ctx, scanLoan, query, args...)
}

func (r *PostgresRepository) queryLoansWithBook(ctx context.Context, query string, args ...interface{}) ([]models.Loan, error) {
	return r.collectLoans(ctx, scanLoanWithBook, query, args...)
}

func (r *PostgresRepository) collectLoans(ctx context.Context, scan func(rowScanner) (*models.Loan, error),
	query string, args ...interface{}) ([]models.Loan, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []models.Loan
	for rows.Next() {
		loan, err := scan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, *loan)
	}

	return loans, rows.Err()
}

// WaiveLoanFee zeroes the fee and marks the waiver. The flag is what
// keeps later recomputation (including return finalization) at zero.
func (r *PostgresRepository) WaiveLoanFee(ctx context.Context, loanID int64) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE loans SET late_fee = 0, fee_waived = TRUE WHERE id = $1", loanID)
	if err != nil {
		return err
	}
	return checkAffected(res, ErrLoanNotFound)
}

// MarkLoanPaid flips the paid flag once; there is no un-paying and a
// second attempt reports ErrAlreadyPaid.
func (r *PostgresRepository) MarkLoanPaid(ctx context.Context, loanID int64, method string, when time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE loans SET late_fee_paid = TRUE, late_fee_payment_date = $1, payment_method = $2
		 WHERE id = $3 AND NOT late_fee_paid`,
		when, method, loanID,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		loan, err := r.GetLoanByID(ctx, loanID)
		if err != nil {
			return err
		}
		if loan == nil {
			return ErrLoanNotFound
		}
		return ErrAlreadyPaid
	}
	return nil
}

func (r *PostgresRepository) FeeStats(ctx context.Context) (*models.FeeStats, error) {
	stats := &models.FeeStats{}
	err := r.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(late_fee), 0),
			COALESCE(SUM(late_fee) FILTER (WHERE late_fee_paid), 0),
			COALESCE(SUM(late_fee) FILTER (WHERE NOT late_fee_paid), 0),
			COUNT(*) FILTER (WHERE fee_waived),
			COUNT(*) FILTER (WHERE late_fee > 0 AND NOT late_fee_paid)
		 FROM loans`,
	).Scan(&stats.Accrued, &stats.Collected, &stats.Outstanding, &stats.Waived, &stats.UnpaidLoans)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *PostgresRepository) UnreturnedLoans(ctx context.Context) ([]models.Loan, error) {
	return r.queryLoans(ctx,
		"SELECT "+loanColumns+" FROM loans WHERE NOT is_returned ORDER BY due_date ASC")
}

func (r *PostgresRepository) MarkReminderSent(ctx context.Context, loanID int64) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE loans SET reminder_sent = TRUE WHERE id = $1", loanID)
	if err != nil {
		return err
	}
	return checkAffected(res, ErrLoanNotFound)
}

// MarkOverdueNotice records the days-late level the borrower was last
// notified at, so each accrued day triggers at most one notice.
func (r *PostgresRepository) MarkOverdueNotice(ctx context.Context, loanID int64, daysLate int) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE loans SET last_notice_days_late = $1 WHERE id = $2", daysLate, loanID)
	if err != nil {
		return err
	}
	return checkAffected(res, ErrLoanNotFound)
}
