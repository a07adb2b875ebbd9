package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/ticketledger/libs/httpx"
	"github.com/md-rashed-zaman/ticketledger/services/ticket-service/internal/model"
	"github.com/md-rashed-zaman/ticketledger/services/ticket-service/internal/tickets"
)

const (
	msgUnauthenticated = "User not authenticated"
	msgServerError     = "Server error"
)

type TicketService interface {
	Issue(ctx context.Context, caller, eventID string) (model.Ticket, error)
	TotalSold(ctx context.Context, eventID string) (int, error)
	TransferredCount(ctx context.Context, eventID string) (int, error)
	Transfer(ctx context.Context, caller, recipient, eventID string) (model.Ticket, error)
	Details(ctx context.Context, owner, eventID string) (*model.Ticket, error)
}

type TicketHandler struct {
	svc    TicketService
	logger *slog.Logger
}

func NewTicketHandler(svc TicketService, logger *slog.Logger) *TicketHandler {
	return &TicketHandler{svc: svc, logger: logger}
}

type issueRequest struct {
	EventID string `json:"eventId"`
}

type transferRequest struct {
	To      string `json:"to"`
	EventID string `json:"eventId"`
}

type detailsRequest struct {
	Owner   string `json:"owner"`
	EventID string `json:"eventId"`
}

type ticketJSON struct {
	ID            string    `json:"_id"`
	EventID       string    `json:"eventId"`
	Owner         string    `json:"owner"`
	IsTransferred bool      `json:"isTransferred"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type messageResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

type totalResponse struct {
	Success      bool `json:"success"`
	TotalTickets int  `json:"totalTickets"`
	StatusCode   int  `json:"statusCode"`
}

type transferredResponse struct {
	Success     bool `json:"success"`
	TicketsSold int  `json:"ticketsSold"`
	StatusCode  int  `json:"statusCode"`
}

type transferResponse struct {
	Success    bool       `json:"success"`
	Message    string     `json:"message"`
	Ticket     ticketJSON `json:"ticket"`
	StatusCode int        `json:"statusCode"`
}

type detailsResponse struct {
	Success    bool        `json:"success"`
	HasTicket  bool        `json:"hasTicket"`
	Ticket     *ticketJSON `json:"ticket"`
	StatusCode int         `json:"statusCode"`
}

func toTicketJSON(t model.Ticket) ticketJSON {
	return ticketJSON{
		ID:            t.ID,
		EventID:       t.EventID,
		Owner:         t.Owner,
		IsTransferred: t.IsTransferred,
		CreatedAt:     t.CreatedAt.UTC(),
		UpdatedAt:     t.UpdatedAt.UTC(),
	}
}

func (h *TicketHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.svc.Issue(r.Context(), IdentityFromContext(r.Context()), req.EventID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Ticket issued successfully", StatusCode: http.StatusOK})
}

func (h *TicketHandler) TotalSold(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.TotalSold(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, totalResponse{Success: true, TotalTickets: n, StatusCode: http.StatusOK})
}

func (h *TicketHandler) Transferred(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.TransferredCount(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, transferredResponse{Success: true, TicketsSold: n, StatusCode: http.StatusOK})
}

func (h *TicketHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.svc.Transfer(r.Context(), IdentityFromContext(r.Context()), req.To, req.EventID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, transferResponse{
		Success:    true,
		Message:    "Ticket transferred successfully",
		Ticket:     toTicketJSON(t),
		StatusCode: http.StatusOK,
	})
}

func (h *TicketHandler) Details(w http.ResponseWriter, r *http.Request) {
	var req detailsRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.svc.Details(r.Context(), req.Owner, req.EventID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := detailsResponse{Success: true, HasTicket: t != nil, StatusCode: http.StatusOK}
	if t != nil {
		tj := toTicketJSON(*t)
		resp.Ticket = &tj
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body into dst. An empty body leaves dst zeroed.
func (h *TicketHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpx.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return false
	}
	httpx.WriteError(w, http.StatusBadRequest, "Invalid request body")
	return false
}

func (h *TicketHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tickets.ErrUnauthenticated):
		httpx.WriteError(w, http.StatusUnauthorized, msgUnauthenticated)
	case errors.Is(err, tickets.ErrWalletNotFound):
		httpx.WriteError(w, http.StatusNotFound, "User wallet not found")
	case errors.Is(err, tickets.ErrWalletAddressMissing):
		httpx.WriteError(w, http.StatusBadRequest, "Wallet address not found")
	case errors.Is(err, tickets.ErrEventNotFound):
		httpx.WriteError(w, http.StatusNotFound, "Event not found")
	case errors.Is(err, tickets.ErrSoldOut):
		httpx.WriteError(w, http.StatusBadRequest, "No more tickets available for this event")
	case errors.Is(err, tickets.ErrAlreadyIssued):
		httpx.WriteError(w, http.StatusBadRequest, "Ticket already issued to this address for the event")
	case errors.Is(err, tickets.ErrTicketNotFound):
		httpx.WriteError(w, http.StatusNotFound, "Ticket not found")
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"err", err,
		)
		httpx.WriteError(w, http.StatusInternalServerError, msgServerError)
	}
}
