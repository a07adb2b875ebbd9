package tickets

import "errors"

var (
	ErrUnauthenticated      = errors.New("user not authenticated")
	ErrWalletNotFound       = errors.New("user wallet not found")
	ErrWalletAddressMissing = errors.New("wallet address not found")
	ErrEventNotFound        = errors.New("event not found")
	ErrSoldOut              = errors.New("no more tickets available for this event")
	ErrAlreadyIssued        = errors.New("ticket already issued to this address for the event")
	ErrTicketNotFound       = errors.New("ticket not found")
)
