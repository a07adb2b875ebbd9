package tickets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/ticketledger/services/ticket-service/internal/model"
	"github.com/md-rashed-zaman/ticketledger/services/ticket-service/internal/outbox"
)

type fakeWallets map[string]model.Wallet

func (f fakeWallets) GetByUserID(_ context.Context, userID string) (model.Wallet, bool, error) {
	w, ok := f[userID]
	return w, ok, nil
}

type fakeEvents map[string]model.Event

func (f fakeEvents) GetByEventID(_ context.Context, eventID string) (model.Event, bool, error) {
	e, ok := f[eventID]
	return e, ok, nil
}

// fakeTickets is an in-memory TicketStore; WithTx restores the previous
// rows when fn fails.
type fakeTickets struct {
	rows   []model.Ticket
	nextID int
}

func (f *fakeTickets) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	saved := append([]model.Ticket(nil), f.rows...)
	savedID := f.nextID
	if err := fn(ctx); err != nil {
		f.rows = saved
		f.nextID = savedID
		return err
	}
	return nil
}

func (f *fakeTickets) CountByEvent(_ context.Context, eventID string) (int, error) {
	n := 0
	for _, t := range f.rows {
		if t.EventID == eventID {
			n++
		}
	}
	return n, nil
}

func (f *fakeTickets) CountTransferred(_ context.Context, eventID string) (int, error) {
	n := 0
	for _, t := range f.rows {
		if t.EventID == eventID && t.IsTransferred {
			n++
		}
	}
	return n, nil
}

func (f *fakeTickets) FindByOwner(_ context.Context, owner, eventID string) (*model.Ticket, error) {
	for _, t := range f.rows {
		if t.Owner == owner && t.EventID == eventID {
			found := t
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeTickets) FindByOwnerForUpdate(ctx context.Context, owner, eventID string) (*model.Ticket, error) {
	return f.FindByOwner(ctx, owner, eventID)
}

func (f *fakeTickets) Create(_ context.Context, t *model.Ticket) error {
	f.nextID++
	t.ID = fmt.Sprintf("ticket-%d", f.nextID)
	t.CreatedAt = time.Unix(1_700_000_000, 0)
	t.UpdatedAt = t.CreatedAt
	f.rows = append(f.rows, *t)
	return nil
}

func (f *fakeTickets) Update(_ context.Context, t *model.Ticket) error {
	for i := range f.rows {
		if f.rows[i].ID == t.ID {
			f.rows[i] = *t
			return nil
		}
	}
	return errors.New("no such ticket")
}

type issueCall struct {
	from, key, eventID string
}

// fakeLedger remembers which (address, eventID) pairs were issued.
type fakeLedger struct {
	held      map[string]bool
	issued    []issueCall
	checks    int
	issueErr  error
	hasTicket error
}

func (f *fakeLedger) HasTicket(_ context.Context, address, eventID string) (bool, error) {
	f.checks++
	if f.hasTicket != nil {
		return false, f.hasTicket
	}
	return f.held[address+"/"+eventID], nil
}

func (f *fakeLedger) Issue(_ context.Context, from, key, eventID string) (string, error) {
	if f.issueErr != nil {
		return "", f.issueErr
	}
	if f.held == nil {
		f.held = map[string]bool{}
	}
	f.held[from+"/"+eventID] = true
	f.issued = append(f.issued, issueCall{from: from, key: key, eventID: eventID})
	return fmt.Sprintf("0xhash%d", len(f.issued)), nil
}

type fakeKeys struct{ err error }

func (f fakeKeys) Open(ciphertextHex, ivHex string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "pk:" + ciphertextHex + ":" + ivHex, nil
}

type fakeOutbox struct {
	events []outbox.Event
	err    error
}

func (f *fakeOutbox) Insert(_ context.Context, evt outbox.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, evt)
	return nil
}

type fixture struct {
	svc     *Service
	tickets *fakeTickets
	ledger  *fakeLedger
	outbox  *fakeOutbox
}

func newFixture(events ...model.Event) *fixture {
	evts := fakeEvents{}
	for _, e := range events {
		evts[e.EventID] = e
	}
	f := &fixture{tickets: &fakeTickets{}, ledger: &fakeLedger{}, outbox: &fakeOutbox{}}
	f.svc = NewService(Deps{
		Wallets: fakeWallets{
			"user-1":    {UserID: "user-1", Address: "0xW1", EncryptedPrivateKey: "c1", IV: "iv1"},
			"user-2":    {UserID: "user-2", Address: "0xW2", EncryptedPrivateKey: "c2", IV: "iv2"},
			"user-3":    {UserID: "user-3", Address: "0xW3", EncryptedPrivateKey: "c3", IV: "iv3"},
			"no-address": {UserID: "no-address"},
		},
		Events:  evts,
		Tickets: f.tickets,
		Ledger:  f.ledger,
		Keys:    fakeKeys{},
		Outbox:  f.outbox,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func TestIssuePreconditions(t *testing.T) {
	concert := model.Event{ID: "evt-internal-1", EventID: "concert", TotalTickets: 10}

	tests := []struct {
		name    string
		caller  string
		eventID string
		want    error
	}{
		{name: "no caller", caller: "", eventID: "concert", want: ErrUnauthenticated},
		{name: "no wallet", caller: "stranger", eventID: "concert", want: ErrWalletNotFound},
		{name: "wallet without address", caller: "no-address", eventID: "concert", want: ErrWalletAddressMissing},
		{name: "unknown event", caller: "user-1", eventID: "missing", want: ErrEventNotFound},
		{name: "unknown event other caller", caller: "user-2", eventID: "missing", want: ErrEventNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(concert)
			_, err := f.svc.Issue(context.Background(), tt.caller, tt.eventID)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(f.tickets.rows) != 0 || len(f.ledger.issued) != 0 {
				t.Fatal("rejected issuance must not touch store or ledger")
			}
		})
	}
}

func TestIssueSoldOutEvenWithoutLedgerRecord(t *testing.T) {
	f := newFixture(model.Event{ID: "evt-1", EventID: "concert", TotalTickets: 1})
	f.tickets.rows = []model.Ticket{{ID: "pre", EventID: "evt-1", Owner: "someone"}}

	_, err := f.svc.Issue(context.Background(), "user-1", "concert")
	if !errors.Is(err, ErrSoldOut) {
		t.Fatalf("expected ErrSoldOut, got %v", err)
	}
	if f.ledger.checks != 0 {
		t.Fatalf("ledger must not be consulted once sold out, got %d checks", f.ledger.checks)
	}
}

func TestIssueAlreadyHeldOnLedger(t *testing.T) {
	f := newFixture(model.Event{ID: "evt-1", EventID: "concert", TotalTickets: 5})
	f.ledger.held = map[string]bool{"0xW1/concert": true}

	_, err := f.svc.Issue(context.Background(), "user-1", "concert")
	if !errors.Is(err, ErrAlreadyIssued) {
		t.Fatalf("expected ErrAlreadyIssued, got %v", err)
	}
	if len(f.tickets.rows) != 0 || len(f.ledger.issued) != 0 || len(f.outbox.events) != 0 {
		t.Fatal("already-held issuance must not mutate anything")
	}
}

func TestIssueSuccess(t *testing.T) {
	f := newFixture(
		model.Event{ID: "evt-1", EventID: "concert", TotalTickets: 5},
		model.Event{ID: "evt-2", EventID: "opera", TotalTickets: 5},
	)
	f.tickets.rows = []model.Ticket{{ID: "pre", EventID: "evt-2", Owner: "someone"}}
	ctx := context.Background()

	ticket, err := f.svc.Issue(ctx, "user-1", "concert")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if ticket.EventID != "evt-1" || ticket.Owner != "user-1" || ticket.IsTransferred {
		t.Fatalf("unexpected ticket %+v", ticket)
	}

	if got, _ := f.svc.TotalSold(ctx, "concert"); got != 1 {
		t.Fatalf("expected 1 sold for concert, got %d", got)
	}
	if got, _ := f.svc.TotalSold(ctx, "opera"); got != 1 {
		t.Fatalf("other event count changed: %d", got)
	}

	if len(f.ledger.issued) != 1 {
		t.Fatalf("expected one ledger issuance, got %d", len(f.ledger.issued))
	}
	call := f.ledger.issued[0]
	if call.from != "0xW1" || call.key != "pk:c1:iv1" || call.eventID != "concert" {
		t.Fatalf("unexpected ledger call %+v", call)
	}

	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != outbox.TypeTicketIssued {
		t.Fatalf("expected issued event, got %+v", f.outbox.events)
	}
	var payload outbox.TicketIssued
	if err := json.Unmarshal(f.outbox.events[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.TxHash != "0xhash1" || payload.TicketID != ticket.ID || payload.ExternalEventID != "concert" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestIssueFailures(t *testing.T) {
	event := model.Event{ID: "evt-1", EventID: "concert", TotalTickets: 5}

	t.Run("ledger check fails", func(t *testing.T) {
		f := newFixture(event)
		f.ledger.hasTicket = errors.New("rpc down")
		if _, err := f.svc.Issue(context.Background(), "user-1", "concert"); err == nil || errors.Is(err, ErrAlreadyIssued) {
			t.Fatalf("expected infrastructure error, got %v", err)
		}
	})

	t.Run("key cannot be opened", func(t *testing.T) {
		f := newFixture(event)
		f.svc.keys = fakeKeys{err: errors.New("bad iv")}
		if _, err := f.svc.Issue(context.Background(), "user-1", "concert"); err == nil {
			t.Fatal("expected error")
		}
		if len(f.ledger.issued) != 0 {
			t.Fatal("nothing should be broadcast without a key")
		}
	})

	t.Run("broadcast fails", func(t *testing.T) {
		f := newFixture(event)
		f.ledger.issueErr = errors.New("reverted")
		if _, err := f.svc.Issue(context.Background(), "user-1", "concert"); err == nil {
			t.Fatal("expected error")
		}
		if len(f.tickets.rows) != 0 {
			t.Fatal("no ticket should be stored after a failed broadcast")
		}
	})

	t.Run("outbox write rolls back ticket", func(t *testing.T) {
		f := newFixture(event)
		f.outbox.err = errors.New("insert failed")
		if _, err := f.svc.Issue(context.Background(), "user-1", "concert"); err == nil {
			t.Fatal("expected error")
		}
		if len(f.tickets.rows) != 0 {
			t.Fatal("ticket row must roll back with its event")
		}
		if len(f.ledger.issued) != 1 {
			t.Fatal("ledger issuance is not rolled back")
		}
	})
}

func TestIssueCapacityOneScenario(t *testing.T) {
	f := newFixture(model.Event{ID: "evt-e1", EventID: "E1", TotalTickets: 1})
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "user-1", "E1"); err != nil {
		t.Fatalf("first issuance: %v", err)
	}
	// Capacity is checked before the ledger, so a full event rejects W1's
	// repeat with SoldOut even though the ledger also holds W1.
	if _, err := f.svc.Issue(ctx, "user-1", "E1"); !errors.Is(err, ErrSoldOut) {
		t.Fatalf("repeat for W1: expected ErrSoldOut, got %v", err)
	}
	if _, err := f.svc.Issue(ctx, "user-2", "E1"); !errors.Is(err, ErrSoldOut) {
		t.Fatalf("W2: expected ErrSoldOut, got %v", err)
	}
	if got, _ := f.svc.TotalSold(ctx, "E1"); got != 1 {
		t.Fatalf("expected 1 sold, got %d", got)
	}
}

func TestIssueRepeatWithCapacityLeft(t *testing.T) {
	f := newFixture(model.Event{ID: "evt-e1", EventID: "E1", TotalTickets: 2})
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, "user-1", "E1"); err != nil {
		t.Fatalf("W1: %v", err)
	}
	if _, err := f.svc.Issue(ctx, "user-1", "E1"); !errors.Is(err, ErrAlreadyIssued) {
		t.Fatalf("repeat for W1: expected ErrAlreadyIssued, got %v", err)
	}
	if _, err := f.svc.Issue(ctx, "user-2", "E1"); err != nil {
		t.Fatalf("W2: %v", err)
	}
	if _, err := f.svc.Issue(ctx, "user-3", "E1"); !errors.Is(err, ErrSoldOut) {
		t.Fatalf("W3: expected ErrSoldOut, got %v", err)
	}
}

func TestTotalSoldUnknownEvent(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.TotalSold(context.Background(), "missing"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestTransfer(t *testing.T) {
	f := newFixture(model.Event{ID: "evt-1", EventID: "concert", TotalTickets: 5})
	ctx := context.Background()
	f.tickets.rows = []model.Ticket{{ID: "t1", EventID: "evt-1", Owner: "alice"}}

	got, err := f.svc.Transfer(ctx, "alice", "bob", "evt-1")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got.Owner != "bob" || !got.IsTransferred {
		t.Fatalf("unexpected ticket %+v", got)
	}

	if _, err := f.svc.Transfer(ctx, "alice", "carol", "evt-1"); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("former owner: expected ErrTicketNotFound, got %v", err)
	}

	got, err = f.svc.Transfer(ctx, "bob", "carol", "evt-1")
	if err != nil || got.Owner != "carol" {
		t.Fatalf("second transfer: %+v %v", got, err)
	}
	if len(f.outbox.events) != 2 || f.outbox.events[1].EventType != outbox.TypeTicketTransferred {
		t.Fatalf("expected two transferred events, got %+v", f.outbox.events)
	}
	var payload outbox.TicketTransferred
	_ = json.Unmarshal(f.outbox.events[1].Payload, &payload)
	if payload.From != "bob" || payload.To != "carol" || payload.TicketID != "t1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(f.ledger.issued) != 0 || f.ledger.checks != 0 {
		t.Fatal("transfer must not touch the ledger")
	}
}

func TestTransferredCountUsesRawEventID(t *testing.T) {
	f := newFixture(model.Event{ID: "evt-1", EventID: "concert", TotalTickets: 5})
	ctx := context.Background()
	f.tickets.rows = []model.Ticket{
		{ID: "t1", EventID: "evt-1", Owner: "alice", IsTransferred: true},
		{ID: "t2", EventID: "evt-1", Owner: "bob"},
	}

	if got, _ := f.svc.TransferredCount(ctx, "evt-1"); got != 1 {
		t.Fatalf("expected 1 by stored id, got %d", got)
	}
	if got, _ := f.svc.TransferredCount(ctx, "concert"); got != 0 {
		t.Fatalf("external id is not resolved, expected 0, got %d", got)
	}
}

func TestDetails(t *testing.T) {
	f := newFixture()
	f.tickets.rows = []model.Ticket{{ID: "t1", EventID: "evt-1", Owner: "alice"}}

	got, err := f.svc.Details(context.Background(), "alice", "evt-1")
	if err != nil || got == nil || got.ID != "t1" {
		t.Fatalf("expected t1, got %+v %v", got, err)
	}
	got, err = f.svc.Details(context.Background(), "nobody", "evt-1")
	if err != nil || got != nil {
		t.Fatalf("expected nil ticket without error, got %+v %v", got, err)
	}
}
