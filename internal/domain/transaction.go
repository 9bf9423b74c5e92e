package domain

import (
	"time"
)

// Transaction is one booked statement line. The engine only reads it;
// the import layer owns construction and the caller owns the lifetime.
type Transaction struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Statement scoping
	ClientID  string `json:"clientId"`
	BankID    string `json:"bankId"`
	AccountID string `json:"accountId"`

	// Booking and value dates
	Date      time.Time `json:"date"`
	ValueDate time.Time `json:"valueDate"`

	// Signed amount (debits negative) and running balance after booking
	Amount  float64 `json:"amount"`
	Balance float64 `json:"balance"`

	// Free-text description as printed on the statement
	Description string `json:"description"`

	// Optional metadata from the import layer
	Category  string `json:"category,omitempty"`
	Reference string `json:"reference,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// TransactionRequest is the API payload for registering a statement line.
type TransactionRequest struct {
	ClientID    string  `json:"clientId" validate:"required"`
	BankID      string  `json:"bankId" validate:"required"`
	AccountID   string  `json:"accountId" validate:"required"`
	Date        string  `json:"date" validate:"required"`
	ValueDate   string  `json:"valueDate,omitempty"`
	Amount      float64 `json:"amount" validate:"required"`
	Balance     float64 `json:"balance"`
	Description string  `json:"description" validate:"required"`
	Category    string  `json:"category,omitempty"`
	Reference   string  `json:"reference,omitempty"`
}

// ToTransaction converts a request to a Transaction domain object.
// Dates are parsed as ISO 8601 calendar dates.
func (r *TransactionRequest) ToTransaction() (*Transaction, error) {
	date, err := time.Parse("2006-01-02", r.Date)
	if err != nil {
		return nil, err
	}

	valueDate := date
	if r.ValueDate != "" {
		valueDate, err = time.Parse("2006-01-02", r.ValueDate)
		if err != nil {
			return nil, err
		}
	}

	return &Transaction{
		ClientID:    r.ClientID,
		BankID:      r.BankID,
		AccountID:   r.AccountID,
		Date:        date,
		ValueDate:   valueDate,
		Amount:      r.Amount,
		Balance:     r.Balance,
		Description: r.Description,
		Category:    r.Category,
		Reference:   r.Reference,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
