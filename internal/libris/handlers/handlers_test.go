package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/libris-app/libris/internal/libris/middleware"
	"github.com/libris-app/libris/internal/libris/models"
	"github.com/libris-app/libris/internal/libris/policy"
	"github.com/libris-app/libris/internal/libris/repository"
	"github.com/libris-app/libris/internal/libris/service"
	"github.com/shopspring/decimal"
)

// fakeRepo is an in-memory Repository used by handler tests. The
// forced* fields inject storage failures for specific lookups.
type fakeRepo struct {
	mu sync.Mutex

	users    map[string]*models.User
	tokens   map[string]*models.RefreshToken
	books    map[int64]*models.Book
	loans    map[int64]*models.Loan
	reviews  map[int64]*models.Review
	messages map[int64]*models.ContactMessage
	sessions map[string]*models.PaymentSession

	nextLoanID    int64
	nextReviewID  int64
	nextMessageID int64

	markPaidCalls int

	forcedTokenErr   error
	forcedSessionErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:    make(map[string]*models.User),
		tokens:   make(map[string]*models.RefreshToken),
		books:    make(map[int64]*models.Book),
		loans:    make(map[int64]*models.Loan),
		reviews:  make(map[int64]*models.Review),
		messages: make(map[int64]*models.ContactMessage),
		sessions: make(map[string]*models.PaymentSession),
	}
}

func (f *fakeRepo) CreateUser(_ context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return repository.ErrUserExists
		}
	}
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeRepo) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) GetUserByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeRepo) ListUsers(_ context.Context) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) UpdateUserProfile(_ context.Context, id, name, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.Name, u.Email = name, email
	return nil
}

func (f *fakeRepo) UpdateUserPassword(_ context.Context, id, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *fakeRepo) UpdateUserRole(_ context.Context, id, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.Role = role
	return nil
}

func (f *fakeRepo) SetUserBan(_ context.Context, id string, until *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.BanUntil = until
	return nil
}

func (f *fakeRepo) DeleteUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return repository.ErrUserNotFound
	}
	for _, l := range f.loans {
		if l.UserID == id {
			return repository.ErrUserHasLoans
		}
	}
	delete(f.users, id)
	return nil
}

func (f *fakeRepo) CreateRefreshToken(_ context.Context, token *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *token
	f.tokens[token.Token] = &cp
	return nil
}

func (f *fakeRepo) GetRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forcedTokenErr != nil {
		return nil, f.forcedTokenErr
	}
	t, ok := f.tokens[token]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (f *fakeRepo) DeleteRefreshToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[token]; !ok {
		return repository.ErrTokenNotFound
	}
	delete(f.tokens, token)
	return nil
}

func (f *fakeRepo) DeleteUserRefreshTokens(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, t := range f.tokens {
		if t.UserID == userID {
			delete(f.tokens, k)
		}
	}
	return nil
}

func (f *fakeRepo) DeleteExpiredRefreshTokens(_ context.Context, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, t := range f.tokens {
		if t.ExpiresAt.Before(now) {
			delete(f.tokens, k)
		}
	}
	return nil
}

func (f *fakeRepo) CreateBook(_ context.Context, book *models.Book) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if book.ID == 0 {
		book.ID = int64(len(f.books) + 1)
	}
	cp := *book
	f.books[book.ID] = &cp
	return nil
}

func (f *fakeRepo) GetBookByID(_ context.Context, id int64) (*models.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (f *fakeRepo) ListBooks(_ context.Context, category, _, _ string) ([]models.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Book, 0, len(f.books))
	for _, b := range f.books {
		if category != "" && b.Category != category {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) UpdateBook(_ context.Context, book *models.Book) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.books[book.ID]; !ok {
		return repository.ErrBookNotFound
	}
	cp := *book
	f.books[book.ID] = &cp
	return nil
}

func (f *fakeRepo) DeleteBook(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.books[id]; !ok {
		return repository.ErrBookNotFound
	}
	delete(f.books, id)
	return nil
}

func (f *fakeRepo) PopularBooks(_ context.Context, _, _ int) ([]models.PopularBook, error) {
	return []models.PopularBook{}, nil
}

func (f *fakeRepo) LibraryStats(_ context.Context, now time.Time) (*models.LibraryStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &models.LibraryStats{Books: len(f.books), Users: len(f.users)}
	for _, l := range f.loans {
		if !l.IsReturned {
			stats.ActiveLoans++
			if l.DueDate.Before(now) {
				stats.OverdueLoans++
			}
		}
	}
	return stats, nil
}

func (f *fakeRepo) BorrowBook(_ context.Context, userID string, bookID int64, now time.Time) (*models.Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	book, ok := f.books[bookID]
	if !ok {
		return nil, repository.ErrBookNotFound
	}
	if book.Stock <= 0 {
		return nil, repository.ErrOutOfStock
	}

	active := 0
	for _, l := range f.loans {
		if l.UserID == userID && !l.IsReturned {
			active++
		}
	}
	if active >= policy.MaxActiveLoans {
		return nil, repository.ErrLoanLimit
	}

	book.Stock--
	f.nextLoanID++
	loan := &models.Loan{
		ID:       f.nextLoanID,
		UserID:   userID,
		BookID:   bookID,
		LoanDate: now,
		DueDate:  policy.DueDate(now),
		LateFee:  decimal.Zero,
	}
	f.loans[loan.ID] = loan
	cp := *loan
	return &cp, nil
}

func (f *fakeRepo) ReturnLoan(_ context.Context, loanID int64, now time.Time) (*models.Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	loan, ok := f.loans[loanID]
	if !ok {
		return nil, repository.ErrLoanNotFound
	}
	if loan.IsReturned {
		return nil, repository.ErrAlreadyReturned
	}

	loan.IsReturned = true
	loan.ReturnDate = &now
	loan.DaysLate = policy.DaysLate(loan.DueDate, now)
	if !loan.LateFeePaid {
		loan.LateFee = policy.LateFee(loan.DaysLate, loan.FeeWaived)
	}

	if book, ok := f.books[loan.BookID]; ok {
		book.Stock++
	}

	if until := policy.BanUntil(now, loan.DaysLate); !until.IsZero() {
		if u, ok := f.users[loan.UserID]; ok && u.Role != models.RoleAdmin {
			banUntil := until
			u.BanUntil = &banUntil
		}
	}

	cp := *loan
	return &cp, nil
}

func (f *fakeRepo) GetLoanByID(_ context.Context, id int64) (*models.Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.loans[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (f *fakeRepo) GetUserLoans(_ context.Context, userID string) ([]models.Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Loan
	for _, l := range f.loans {
		if l.UserID == userID {
			out = append(out, f.withBook(*l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) GetUserFeeHistory(_ context.Context, userID string) ([]models.Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Loan
	for _, l := range f.loans {
		if l.UserID == userID && (l.LateFee.IsPositive() || l.FeeWaived) {
			out = append(out, f.withBook(*l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) withBook(l models.Loan) models.Loan {
	if b, ok := f.books[l.BookID]; ok {
		cp := *b
		l.Book = &cp
	}
	return l
}

func (f *fakeRepo) ListLoans(_ context.Context, filter repository.LoanFilter, now time.Time) ([]models.Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Loan
	for _, l := range f.loans {
		if filter.UserID != "" && l.UserID != filter.UserID {
			continue
		}
		if filter.Returned != nil && l.IsReturned != *filter.Returned {
			continue
		}
		if filter.Overdue && (l.IsReturned || !l.DueDate.Before(now)) {
			continue
		}
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) WaiveLoanFee(_ context.Context, loanID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.loans[loanID]
	if !ok {
		return repository.ErrLoanNotFound
	}
	l.LateFee = decimal.Zero
	l.FeeWaived = true
	return nil
}

func (f *fakeRepo) MarkLoanPaid(_ context.Context, loanID int64, method string, when time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markPaidCalls++
	l, ok := f.loans[loanID]
	if !ok {
		return repository.ErrLoanNotFound
	}
	if l.LateFeePaid {
		return repository.ErrAlreadyPaid
	}
	l.LateFeePaid = true
	l.PaymentMethod = method
	l.LateFeePaymentDate = &when
	return nil
}

func (f *fakeRepo) FeeStats(_ context.Context) (*models.FeeStats, error) {
	return &models.FeeStats{}, nil
}

func (f *fakeRepo) UnreturnedLoans(_ context.Context) ([]models.Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Loan
	for _, l := range f.loans {
		if !l.IsReturned {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) MarkReminderSent(_ context.Context, loanID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.loans[loanID]
	if !ok {
		return repository.ErrLoanNotFound
	}
	l.ReminderSent = true
	return nil
}

func (f *fakeRepo) MarkOverdueNotice(_ context.Context, loanID int64, daysLate int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.loans[loanID]
	if !ok {
		return repository.ErrLoanNotFound
	}
	l.LastNoticeDaysLate = daysLate
	return nil
}

func (f *fakeRepo) CreateReview(_ context.Context, review *models.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextReviewID++
	review.ID = f.nextReviewID
	cp := *review
	f.reviews[review.ID] = &cp
	return nil
}

func (f *fakeRepo) GetReviewByID(_ context.Context, id int64) (*models.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rv, ok := f.reviews[id]
	if !ok {
		return nil, nil
	}
	cp := *rv
	return &cp, nil
}

func (f *fakeRepo) GetBookReviews(_ context.Context, bookID int64) ([]models.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Review
	for _, rv := range f.reviews {
		if rv.BookID == bookID {
			out = append(out, *rv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) GetUserReviews(_ context.Context, userID string) ([]models.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Review
	for _, rv := range f.reviews {
		if rv.UserID == userID {
			out = append(out, *rv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) ListReviews(_ context.Context) ([]models.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Review, 0, len(f.reviews))
	for _, rv := range f.reviews {
		out = append(out, *rv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) DeleteReview(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reviews[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.reviews, id)
	return nil
}

func (f *fakeRepo) AddFavorite(_ context.Context, userID string, bookID int64) error {
	return nil
}

func (f *fakeRepo) RemoveFavorite(_ context.Context, userID string, bookID int64) error {
	return nil
}

func (f *fakeRepo) GetUserFavorites(_ context.Context, userID string) ([]models.Favorite, error) {
	return []models.Favorite{}, nil
}

func (f *fakeRepo) CreateMessage(_ context.Context, msg *models.ContactMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMessageID++
	msg.ID = f.nextMessageID
	msg.Status = models.MessageStatusNew
	cp := *msg
	f.messages[msg.ID] = &cp
	return nil
}

func (f *fakeRepo) GetMessageByID(_ context.Context, id int64) (*models.ContactMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (f *fakeRepo) ListMessages(_ context.Context, status string) ([]models.ContactMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ContactMessage
	for _, m := range f.messages {
		if status != "" && m.Status != status {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) MarkMessageRead(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return repository.ErrNotFound
	}
	if m.Status == models.MessageStatusNew {
		m.Status = models.MessageStatusRead
	}
	return nil
}

func (f *fakeRepo) ReplyMessage(_ context.Context, id int64, reply string, when time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.Status = models.MessageStatusReplied
	m.Reply = reply
	m.RepliedAt = &when
	return nil
}

func (f *fakeRepo) UnreadMessageCount(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.messages {
		if m.Status == models.MessageStatusNew {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) CreatePaymentSession(_ context.Context, session *models.PaymentSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.sessions {
		if s.LoanID == session.LoanID {
			delete(f.sessions, id)
		}
	}
	cp := *session
	f.sessions[session.ID] = &cp
	return nil
}

func (f *fakeRepo) GetPaymentSessionByLoan(_ context.Context, loanID int64) (*models.PaymentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forcedSessionErr != nil {
		return nil, f.forcedSessionErr
	}
	for _, s := range f.sessions {
		if s.LoanID == loanID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) DeletePaymentSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func (f *fakeRepo) DeleteStalePaymentSessions(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.sessions {
		if s.CreatedAt.Before(olderThan) {
			delete(f.sessions, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) InitDB(string) error { return nil }
func (f *fakeRepo) Close() error        { return nil }

// fakeGateway records checkout calls and returns a canned URL.
type fakeGateway struct {
	name  string
	url   string
	err   error
	calls int
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) CreateCheckout(_ context.Context, _ *models.PaymentSession) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return g.url, nil
}

type nopMailer struct{}

func (nopMailer) Send(_ context.Context, _, _, _ string) error { return nil }

func newTestHandler(repo *fakeRepo) *Handler {
	return NewHandler(repo, map[string]service.Gateway{}, nopMailer{},
		"test-secret", 15*time.Minute, 30*24*time.Hour, "")
}

// authedRequest builds a request carrying the auth context the
// middleware would have set.
func authedRequest(method, target, body, userID, role string) *http.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	ctx := context.WithValue(r.Context(), middleware.UserIDKey, userID)
	ctx = context.WithValue(ctx, middleware.RoleKey, role)
	return r.WithContext(ctx)
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
