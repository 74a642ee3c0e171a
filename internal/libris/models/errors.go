package models

// ErrorCode is a stable, machine-readable rejection reason. Clients
// switch on codes, never on message text.
type ErrorCode string

const (
	CodeBanned             ErrorCode = "banned"
	CodeUnpaidFees         ErrorCode = "unpaid_fees"
	CodeLoanLimit          ErrorCode = "loan_limit"
	CodeOutOfStock         ErrorCode = "out_of_stock"
	CodeNotFound           ErrorCode = "not_found"
	CodeAlreadyReturned    ErrorCode = "already_returned"
	CodeAlreadyPaid        ErrorCode = "already_paid"
	CodeNoFeeDue           ErrorCode = "no_fee_due"
	CodeInvalidCredentials ErrorCode = "invalid_credentials"
	CodeInvalidSession     ErrorCode = "invalid_session"
	CodeValidation         ErrorCode = "validation"
	CodeConflict           ErrorCode = "conflict"
	CodeForbidden          ErrorCode = "forbidden"
	CodeUnauthorized       ErrorCode = "unauthorized"
	CodeInternal           ErrorCode = "internal"
)

// APIError is the JSON error envelope every failing endpoint returns.
// Fields holds per-field validation messages; BanUntil accompanies the
// banned code so the client can surface the ban end.
type APIError struct {
	Code     ErrorCode         `json:"code"`
	Message  string            `json:"message"`
	BanUntil string            `json:"ban_until,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}
