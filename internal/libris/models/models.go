package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User roles
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Payment providers
const (
	ProviderStripe = "stripe"
	ProviderIyzico = "iyzico"
)

// Contact message statuses
const (
	MessageStatusNew     = "new"
	MessageStatusRead    = "read"
	MessageStatusReplied = "replied"
)

// User represents a registered user. BanUntil is nil when the user has
// never been banned or the ban was cleared; the user is currently
// banned iff BanUntil is strictly in the future.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	BanUntil     *time.Time `json:"ban_until,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Book represents a catalog entry.
type Book struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Category      string    `json:"category"`
	ISBN          string    `json:"isbn,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	Stock         int       `json:"stock"`
	PublishedYear int       `json:"published_year,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Loan represents one borrow transaction. DaysLate and LateFee are
// provisional while the loan is active and frozen once it is returned.
// FeeWaived marks an administrative waiver; a waived loan never
// re-accrues a fee.
type Loan struct {
	ID                 int64           `json:"id"`
	UserID             string          `json:"user_id"`
	BookID             int64           `json:"book_id"`
	Book               *Book           `json:"book,omitempty"`
	LoanDate           time.Time       `json:"loan_date"`
	DueDate            time.Time       `json:"due_date"`
	ReturnDate         *time.Time      `json:"return_date,omitempty"`
	IsReturned         bool            `json:"is_returned"`
	DaysLate           int             `json:"days_late"`
	LateFee            decimal.Decimal `json:"late_fee"`
	FeeWaived          bool            `json:"fee_waived"`
	LateFeePaid        bool            `json:"late_fee_paid"`
	LateFeePaymentDate *time.Time      `json:"late_fee_payment_date,omitempty"`
	PaymentMethod      string          `json:"payment_method,omitempty"`
	ReminderSent       bool            `json:"-"`
	LastNoticeDaysLate int             `json:"-"`
}

// Review is a user's rating and comment on a book.
type Review struct {
	ID        int64     `json:"id"`
	BookID    int64     `json:"book_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name,omitempty"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

// Favorite links a user to a bookmarked book.
type Favorite struct {
	UserID  string    `json:"user_id"`
	BookID  int64     `json:"book_id"`
	Book    *Book     `json:"book,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// ContactMessage is a message sent through the contact form.
type ContactMessage struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Subject   string     `json:"subject"`
	Body      string     `json:"body"`
	Status    string     `json:"status"`
	Reply     string     `json:"reply,omitempty"`
	RepliedAt *time.Time `json:"replied_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// PaymentSession is the durable pending-payment marker correlating a
// gateway redirect with the loan it pays for. It is consumed exactly
// once, by confirmation, cancellation or the stale-session sweep.
type PaymentSession struct {
	ID        string          `json:"id"`
	LoanID    int64           `json:"loan_id"`
	UserID    string          `json:"user_id"`
	Provider  string          `json:"provider"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// RefreshToken is an opaque server-side session credential. A token is
// valid until it expires, is rotated by a refresh, or is revoked by
// logout.
type RefreshToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// LibraryStats is the library-wide counters shown on the dashboard.
type LibraryStats struct {
	Books        int `json:"books"`
	Users        int `json:"users"`
	ActiveLoans  int `json:"active_loans"`
	OverdueLoans int `json:"overdue_loans"`
}

// FeeStats aggregates late fees for the admin dashboard.
type FeeStats struct {
	Accrued     decimal.Decimal `json:"accrued"`
	Collected   decimal.Decimal `json:"collected"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Waived      int             `json:"waived_loans"`
	UnpaidLoans int             `json:"unpaid_loans"`
}

// PopularBook is a book ranked by how often it was borrowed within a
// window.
type PopularBook struct {
	Book      Book `json:"book"`
	LoanCount int  `json:"loan_count"`
}
