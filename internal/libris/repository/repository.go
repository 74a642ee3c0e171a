package repository

import (
	"context"
	"errors"
	"time"

	"github.com/libris-app/libris/internal/libris/models"
)

// Sentinel errors surfaced to handlers for code mapping.
var (
	ErrUserExists      = errors.New("user already exists")
	ErrUserNotFound    = errors.New("user not found")
	ErrUserHasLoans    = errors.New("user has loan history")
	ErrBookNotFound    = errors.New("book not found")
	ErrOutOfStock      = errors.New("book out of stock")
	ErrLoanNotFound    = errors.New("loan not found")
	ErrLoanLimit       = errors.New("active loan limit reached")
	ErrAlreadyReturned = errors.New("loan already returned")
	ErrAlreadyPaid     = errors.New("late fee already paid")
	ErrTokenNotFound   = errors.New("refresh token not found")
	ErrNotFound        = errors.New("not found")
)

// LoanFilter narrows admin loan listings. Nil/zero fields mean "any".
type LoanFilter struct {
	UserID   string
	Returned *bool
	Overdue  bool
}

// Repository defines the interface for data access operations
type Repository interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUserProfile(ctx context.Context, id, name, email string) error
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	UpdateUserRole(ctx context.Context, id, role string) error
	SetUserBan(ctx context.Context, id string, until *time.Time) error
	DeleteUser(ctx context.Context, id string) error

	// Refresh token operations
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, token string) error
	DeleteUserRefreshTokens(ctx context.Context, userID string) error
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) error

	// Book operations
	CreateBook(ctx context.Context, book *models.Book) error
	GetBookByID(ctx context.Context, id int64) (*models.Book, error)
	ListBooks(ctx context.Context, category, sortBy, order string) ([]models.Book, error)
	UpdateBook(ctx context.Context, book *models.Book) error
	DeleteBook(ctx context.Context, id int64) error
	PopularBooks(ctx context.Context, limit, days int) ([]models.PopularBook, error)
	LibraryStats(ctx context.Context, now time.Time) (*models.LibraryStats, error)

	// Loan operations
	BorrowBook(ctx context.Context, userID string, bookID int64, now time.Time) (*models.Loan, error)
	ReturnLoan(ctx context.Context, loanID int64, now time.Time) (*models.Loan, error)
	GetLoanByID(ctx context.Context, id int64) (*models.Loan, error)
	GetUserLoans(ctx context.Context, userID string) ([]models.Loan, error)
	GetUserFeeHistory(ctx context.Context, userID string) ([]models.Loan, error)
	ListLoans(ctx context.Context, filter LoanFilter, now time.Time) ([]models.Loan, error)
	WaiveLoanFee(ctx context.Context, loanID int64) error
	MarkLoanPaid(ctx context.Context, loanID int64, method string, when time.Time) error
	FeeStats(ctx context.Context) (*models.FeeStats, error)
	UnreturnedLoans(ctx context.Context) ([]models.Loan, error)
	MarkReminderSent(ctx context.Context, loanID int64) error
	MarkOverdueNotice(ctx context.Context, loanID int64, daysLate int) error

	// Review operations
	CreateReview(ctx context.Context, review *models.Review) error
	GetReviewByID(ctx context.Context, id int64) (*models.Review, error)
	GetBookReviews(ctx context.Context, bookID int64) ([]models.Review, error)
	GetUserReviews(ctx context.Context, userID string) ([]models.Review, error)
	ListReviews(ctx context.Context) ([]models.Review, error)
	DeleteReview(ctx context.Context, id int64) error

	// Favorite operations
	AddFavorite(ctx context.Context, userID string, bookID int64) error
	RemoveFavorite(ctx context.Context, userID string, bookID int64) error
	GetUserFavorites(ctx context.Context, userID string) ([]models.Favorite, error)

	// Contact message operations
	CreateMessage(ctx context.Context, msg *models.ContactMessage) error
	GetMessageByID(ctx context.Context, id int64) (*models.ContactMessage, error)
	ListMessages(ctx context.Context, status string) ([]models.ContactMessage, error)
	MarkMessageRead(ctx context.Context, id int64) error
	ReplyMessage(ctx context.Context, id int64, reply string, when time.Time) error
	UnreadMessageCount(ctx context.Context) (int, error)

	// Payment session operations
	CreatePaymentSession(ctx context.Context, session *models.PaymentSession) error
	GetPaymentSessionByLoan(ctx context.Context, loanID int64) (*models.PaymentSession, error)
	DeletePaymentSession(ctx context.Context, id string) error
	DeleteStalePaymentSessions(ctx context.Context, olderThan time.Time) (int64, error)

	// Initialize and close
	InitDB(databaseURI string) error
	Close() error
}
