package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libris-app/libris/internal/libris/logger"
	"github.com/libris-app/libris/internal/libris/models"
	"github.com/libris-app/libris/internal/libris/policy"
	"github.com/libris-app/libris/internal/libris/repository"
)

// paymentSessionTTL is how long a pending payment marker survives
// without a confirm or cancel before the sweep clears it.
const paymentSessionTTL = time.Hour

// Notifier is the background worker: due-date reminders, overdue
// notices, stale payment-session and expired refresh-token sweeps.
type Notifier struct {
	repo     repository.Repository
	mailer   Mailer
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewNotifier creates a new notifier worker
func NewNotifier(repo repository.Repository, mailer Mailer) *Notifier {
	return &Notifier{
		repo:     repo,
		mailer:   mailer,
		interval: time.Hour,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the worker loop
func (n *Notifier) Start() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.loop()
	}()
}

// Stop stops the worker and waits for the current sweep to finish
func (n *Notifier) Stop() {
	close(n.stopCh)
	n.wg.Wait()
}

func (n *Notifier) loop() {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			n.Sweep(ctx, time.Now())
			cancel()
		case <-n.stopCh:
			return
		}
	}
}

// Sweep runs one pass of all periodic duties.
func (n *Notifier) Sweep(ctx context.Context, now time.Time) {
	n.checkLoans(ctx, now)

	if count, err := n.repo.DeleteStalePaymentSessions(ctx, now.Add(-paymentSessionTTL)); err != nil {
		logger.Error().Err(err).Msg("stale payment session sweep failed")
	} else if count > 0 {
		logger.Info().Int64("count", count).Msg("cleared stale payment sessions")
	}

	if err := n.repo.DeleteExpiredRefreshTokens(ctx, now); err != nil {
		logger.Error().Err(err).Msg("expired refresh token sweep failed")
	}
}

// checkLoans sends a reminder once ReminderDay opens the window before
// the due date, and an overdue notice with the provisional fee once it
// is past due. The reminder goes out once per loan; an overdue notice
// goes out once per accrued day late, not once per sweep.
func (n *Notifier) checkLoans(ctx context.Context, now time.Time) {
	loans, err := n.repo.UnreturnedLoans(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("loan sweep failed")
		return
	}

	for _, loan := range loans {
		switch {
		case now.After(loan.DueDate):
			if daysLate := policy.DaysLate(loan.DueDate, now); daysLate > loan.LastNoticeDaysLate {
				n.sendOverdueNotice(ctx, loan, daysLate)
			}
		case !loan.ReminderSent && loan.DueDate.Sub(now) <= policy.ReminderLead:
			n.sendReminder(ctx, loan)
		}
	}
}

func (n *Notifier) sendReminder(ctx context.Context, loan models.Loan) {
	user, err := n.repo.GetUserByID(ctx, loan.UserID)
	if err != nil || user == nil {
		return
	}

	title := n.bookTitle(ctx, loan.BookID)
	subject := "Your book is due tomorrow"
	body := fmt.Sprintf("Hi %s,\n\n%q is due back on %s. Return it on time to avoid late fees.",
		user.Name, title, loan.DueDate.Format("02 Jan 2006"))

	if err := n.mailer.Send(ctx, user.Email, subject, body); err != nil {
		logger.Warn().Err(err).Int64("loan_id", loan.ID).Msg("reminder mail failed")
		return
	}
	if err := n.repo.MarkReminderSent(ctx, loan.ID); err != nil {
		logger.Warn().Err(err).Int64("loan_id", loan.ID).Msg("marking reminder failed")
	}
}

func (n *Notifier) sendOverdueNotice(ctx context.Context, loan models.Loan, daysLate int) {
	user, err := n.repo.GetUserByID(ctx, loan.UserID)
	if err != nil || user == nil {
		return
	}

	fee := policy.LateFee(daysLate, loan.FeeWaived)

	title := n.bookTitle(ctx, loan.BookID)
	subject := "Overdue book"
	body := fmt.Sprintf("Hi %s,\n\n%q is %d day(s) overdue. The late fee so far is %s. Please return it as soon as possible.",
		user.Name, title, daysLate, fee.StringFixed(2))

	if err := n.mailer.Send(ctx, user.Email, subject, body); err != nil {
		logger.Warn().Err(err).Int64("loan_id", loan.ID).Msg("overdue mail failed")
		return
	}
	if err := n.repo.MarkOverdueNotice(ctx, loan.ID, daysLate); err != nil {
		logger.Warn().Err(err).Int64("loan_id", loan.ID).Msg("marking overdue notice failed")
	}
}

func (n *Notifier) bookTitle(ctx context.Context, bookID int64) string {
	book, err := n.repo.GetBookByID(ctx, bookID)
	if err != nil || book == nil {
		return "your borrowed book"
	}
	return book.Title
}
