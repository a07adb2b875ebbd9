// Package tickets issues, counts and transfers event tickets, coordinating
// the store with the on-chain ticket contract.
package tickets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/ticketledger/services/ticket-service/internal/model"
	"github.com/md-rashed-zaman/ticketledger/services/ticket-service/internal/outbox"
)

type WalletStore interface {
	GetByUserID(ctx context.Context, userID string) (model.Wallet, bool, error)
}

type EventStore interface {
	GetByEventID(ctx context.Context, eventID string) (model.Event, bool, error)
}

type TicketStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CountByEvent(ctx context.Context, eventID string) (int, error)
	CountTransferred(ctx context.Context, eventID string) (int, error)
	FindByOwner(ctx context.Context, owner, eventID string) (*model.Ticket, error)
	FindByOwnerForUpdate(ctx context.Context, owner, eventID string) (*model.Ticket, error)
	Create(ctx context.Context, t *model.Ticket) error
	Update(ctx context.Context, t *model.Ticket) error
}

// EventRecorder writes domain events next to the ticket change that caused
// them; it joins the transaction carried on ctx.
type EventRecorder interface {
	Insert(ctx context.Context, evt outbox.Event) error
}

type Ledger interface {
	HasTicket(ctx context.Context, address, eventID string) (bool, error)
	Issue(ctx context.Context, from, privateKeyHex, eventID string) (txHash string, err error)
}

type KeyOpener interface {
	Open(ciphertextHex, ivHex string) (string, error)
}

type Service struct {
	wallets WalletStore
	events  EventStore
	tickets TicketStore
	ledger  Ledger
	keys    KeyOpener
	outbox  EventRecorder
	logger  *slog.Logger
	now     func() time.Time
}

type Deps struct {
	Wallets WalletStore
	Events  EventStore
	Tickets TicketStore
	Ledger  Ledger
	Keys    KeyOpener
	// Outbox is optional; without it no domain events are recorded.
	Outbox EventRecorder
	Logger *slog.Logger
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		wallets: d.Wallets,
		events:  d.Events,
		tickets: d.Tickets,
		ledger:  d.Ledger,
		keys:    d.Keys,
		outbox:  d.Outbox,
		logger:  logger,
		now:     time.Now,
	}
}

// Issue mints a ticket for eventID to the caller's custodial wallet. The
// ledger transaction is broadcast and mined before the ticket row is stored;
// the two are not atomic.
func (s *Service) Issue(ctx context.Context, caller, eventID string) (model.Ticket, error) {
	if caller == "" {
		return model.Ticket{}, ErrUnauthenticated
	}

	wallet, ok, err := s.wallets.GetByUserID(ctx, caller)
	if err != nil {
		return model.Ticket{}, fmt.Errorf("load wallet: %w", err)
	}
	if !ok {
		return model.Ticket{}, ErrWalletNotFound
	}
	if wallet.Address == "" {
		return model.Ticket{}, ErrWalletAddressMissing
	}

	event, ok, err := s.events.GetByEventID(ctx, eventID)
	if err != nil {
		return model.Ticket{}, fmt.Errorf("load event: %w", err)
	}
	if !ok {
		return model.Ticket{}, ErrEventNotFound
	}

	sold, err := s.tickets.CountByEvent(ctx, event.ID)
	if err != nil {
		return model.Ticket{}, fmt.Errorf("count tickets: %w", err)
	}
	if sold >= event.TotalTickets {
		return model.Ticket{}, ErrSoldOut
	}

	held, err := s.ledger.HasTicket(ctx, wallet.Address, eventID)
	if err != nil {
		return model.Ticket{}, fmt.Errorf("check ledger: %w", err)
	}
	if held {
		return model.Ticket{}, ErrAlreadyIssued
	}

	privateKey, err := s.keys.Open(wallet.EncryptedPrivateKey, wallet.IV)
	if err != nil {
		return model.Ticket{}, fmt.Errorf("open wallet key: %w", err)
	}

	s.logger.InfoContext(ctx, "issuing ticket", "user_id", caller, "event_id", eventID, "address", wallet.Address)
	txHash, err := s.ledger.Issue(ctx, wallet.Address, privateKey, eventID)
	if err != nil {
		return model.Ticket{}, fmt.Errorf("issue on ledger: %w", err)
	}
	s.logger.InfoContext(ctx, "ticket issued on ledger", "event_id", eventID, "tx_hash", txHash)

	ticket := model.Ticket{EventID: event.ID, Owner: caller}
	err = s.tickets.WithTx(ctx, func(ctx context.Context) error {
		if err := s.tickets.Create(ctx, &ticket); err != nil {
			return err
		}
		return s.record(ctx, outbox.TypeTicketIssued, ticket.ID, outbox.TicketIssued{
			TicketID:        ticket.ID,
			EventID:         event.ID,
			ExternalEventID: event.EventID,
			Owner:           caller,
			WalletAddress:   wallet.Address,
			TxHash:          txHash,
			IssuedAt:        s.now().UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		// The chain already holds the ticket; surface the hash for reconciliation.
		s.logger.ErrorContext(ctx, "ticket minted but not stored", "event_id", eventID, "tx_hash", txHash, "err", err)
		return model.Ticket{}, fmt.Errorf("store ticket: %w", err)
	}
	return ticket, nil
}

// TotalSold counts tickets issued for the event with external id eventID.
func (s *Service) TotalSold(ctx context.Context, eventID string) (int, error) {
	event, ok, err := s.events.GetByEventID(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("load event: %w", err)
	}
	if !ok {
		return 0, ErrEventNotFound
	}
	n, err := s.tickets.CountByEvent(ctx, event.ID)
	if err != nil {
		return 0, fmt.Errorf("count tickets: %w", err)
	}
	return n, nil
}

// TransferredCount counts transferred tickets whose stored event id equals
// eventID as given; the event is not resolved first.
func (s *Service) TransferredCount(ctx context.Context, eventID string) (int, error) {
	n, err := s.tickets.CountTransferred(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("count transferred: %w", err)
	}
	return n, nil
}

// Transfer hands the caller's ticket for eventID to recipient. It touches
// the store only.
func (s *Service) Transfer(ctx context.Context, caller, recipient, eventID string) (model.Ticket, error) {
	var ticket model.Ticket
	err := s.tickets.WithTx(ctx, func(ctx context.Context) error {
		found, err := s.tickets.FindByOwnerForUpdate(ctx, caller, eventID)
		if err != nil {
			return fmt.Errorf("find ticket: %w", err)
		}
		if found == nil {
			return ErrTicketNotFound
		}
		found.Owner = recipient
		found.IsTransferred = true
		if err := s.tickets.Update(ctx, found); err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		ticket = *found
		return s.record(ctx, outbox.TypeTicketTransferred, found.ID, outbox.TicketTransferred{
			TicketID:      found.ID,
			EventID:       found.EventID,
			From:          caller,
			To:            recipient,
			TransferredAt: s.now().UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		return model.Ticket{}, err
	}
	return ticket, nil
}

// Details returns the ticket owner holds for eventID, or nil.
func (s *Service) Details(ctx context.Context, owner, eventID string) (*model.Ticket, error) {
	t, err := s.tickets.FindByOwner(ctx, owner, eventID)
	if err != nil {
		return nil, fmt.Errorf("find ticket: %w", err)
	}
	return t, nil
}

func (s *Service) record(ctx context.Context, eventType, aggregateID string, payload any) error {
	if s.outbox == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.outbox.Insert(ctx, outbox.Event{
		AggregateType: outbox.AggregateTicket,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
	})
}
