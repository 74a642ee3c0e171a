package service

import (
	"context"
	"testing"
	"time"

	"github.com/libris-app/libris/internal/libris/models"
	"github.com/libris-app/libris/internal/libris/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sweepRepo stubs just the methods one sweep touches.
type sweepRepo struct {
	repository.Repository

	loans []models.Loan
	users map[string]*models.User
	books map[int64]*models.Book

	remindersMarked []int64
	staleCutoff     time.Time
	tokenSweepAt    time.Time
}

func (s *sweepRepo) UnreturnedLoans(_ context.Context) ([]models.Loan, error) {
	return s.loans, nil
}

func (s *sweepRepo) GetUserByID(_ context.Context, id string) (*models.User, error) {
	return s.users[id], nil
}

func (s *sweepRepo) GetBookByID(_ context.Context, id int64) (*models.Book, error) {
	return s.books[id], nil
}

func (s *sweepRepo) MarkReminderSent(_ context.Context, loanID int64) error {
	s.remindersMarked = append(s.remindersMarked, loanID)
	return nil
}

func (s *sweepRepo) MarkOverdueNotice(_ context.Context, loanID int64, daysLate int) error {
	for i := range s.loans {
		if s.loans[i].ID == loanID {
			s.loans[i].LastNoticeDaysLate = daysLate
		}
	}
	return nil
}

func (s *sweepRepo) DeleteStalePaymentSessions(_ context.Context, olderThan time.Time) (int64, error) {
	s.staleCutoff = olderThan
	return 0, nil
}

func (s *sweepRepo) DeleteExpiredRefreshTokens(_ context.Context, now time.Time) error {
	s.tokenSweepAt = now
	return nil
}

type sentMail struct {
	to      string
	subject string
	body    string
}

type recordingMailer struct {
	sent []sentMail
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func newSweepRepo() *sweepRepo {
	return &sweepRepo{
		users: map[string]*models.User{
			"u1": {ID: "u1", Name: "Alice", Email: "alice@example.com"},
		},
		books: map[int64]*models.Book{
			1: {ID: 1, Title: "The Go Programming Language"},
		},
	}
}

func TestSweepSendsReminderOnceWithin24Hours(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newSweepRepo()
	repo.loans = []models.Loan{{
		ID:      1,
		UserID:  "u1",
		BookID:  1,
		DueDate: now.Add(20 * time.Hour),
		LateFee: decimal.Zero,
	}}
	mailer := &recordingMailer{}

	n := NewNotifier(repo, mailer)
	n.Sweep(context.Background(), now)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "alice@example.com", mailer.sent[0].to)
	assert.Contains(t, mailer.sent[0].subject, "due tomorrow")
	assert.Contains(t, mailer.sent[0].body, "The Go Programming Language")
	assert.Equal(t, []int64{1}, repo.remindersMarked)

	// The next sweep sees the reminder flag and stays quiet.
	repo.loans[0].ReminderSent = true
	n.Sweep(context.Background(), now.Add(time.Hour))
	assert.Len(t, mailer.sent, 1)
}

func TestSweepSkipsLoansNotDueSoon(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newSweepRepo()
	repo.loans = []models.Loan{{
		ID:      1,
		UserID:  "u1",
		BookID:  1,
		DueDate: now.Add(5 * 24 * time.Hour),
		LateFee: decimal.Zero,
	}}
	mailer := &recordingMailer{}

	NewNotifier(repo, mailer).Sweep(context.Background(), now)

	assert.Empty(t, mailer.sent)
	assert.Empty(t, repo.remindersMarked)
}

func TestSweepSendsOverdueNoticeWithProvisionalFee(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newSweepRepo()
	repo.loans = []models.Loan{{
		ID:      1,
		UserID:  "u1",
		BookID:  1,
		DueDate: now.Add(-25 * time.Hour), // rounds up to 2 days late
		LateFee: decimal.Zero,
	}}
	mailer := &recordingMailer{}

	NewNotifier(repo, mailer).Sweep(context.Background(), now)

	require.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0].subject, "Overdue")
	assert.Contains(t, mailer.sent[0].body, "2 day(s) overdue")
	assert.Contains(t, mailer.sent[0].body, "10.00")
}

// Hourly sweeps must not hammer an overdue borrower: one notice per
// accrued day late, not one per sweep.
func TestSweepOverdueNoticeOncePerDay(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newSweepRepo()
	repo.loans = []models.Loan{{
		ID:      1,
		UserID:  "u1",
		BookID:  1,
		DueDate: now.Add(-25 * time.Hour),
		LateFee: decimal.Zero,
	}}
	mailer := &recordingMailer{}
	n := NewNotifier(repo, mailer)

	n.Sweep(context.Background(), now)
	require.Len(t, mailer.sent, 1)

	// Later sweeps within the same accrued day stay silent.
	n.Sweep(context.Background(), now.Add(time.Hour))
	n.Sweep(context.Background(), now.Add(2*time.Hour))
	assert.Len(t, mailer.sent, 1)

	// Another day accrues, another notice goes out.
	n.Sweep(context.Background(), now.Add(24*time.Hour))
	require.Len(t, mailer.sent, 2)
	assert.Contains(t, mailer.sent[1].body, "3 day(s) overdue")
	assert.Contains(t, mailer.sent[1].body, "15.00")
}

func TestSweepClearsStaleSessionsAndExpiredTokens(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := newSweepRepo()
	mailer := &recordingMailer{}

	NewNotifier(repo, mailer).Sweep(context.Background(), now)

	assert.Equal(t, now.Add(-time.Hour), repo.staleCutoff)
	assert.Equal(t, now, repo.tokenSweepAt)
}

func TestNotifierStartStop(t *testing.T) {
	repo := newSweepRepo()
	n := NewNotifier(repo, &recordingMailer{})
	n.interval = 10 * time.Millisecond

	n.Start()
	time.Sleep(30 * time.Millisecond)
	n.Stop()
}
