package model

import "time"

type Event struct {
	ID           string
	EventID      string
	TotalTickets int
}

// Ticket.EventID holds the owning event's internal ID when written by
// issuance; lookups by callers compare it against whatever value they send.
type Ticket struct {
	ID            string
	EventID       string
	Owner         string
	IsTransferred bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Wallet struct {
	UserID              string
	Address             string
	EncryptedPrivateKey string
	IV                  string
}
