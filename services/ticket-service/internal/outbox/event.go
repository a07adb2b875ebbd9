package outbox

const (
	AggregateTicket = "ticket"

	TypeTicketIssued      = "ticket.issued.v1"
	TypeTicketTransferred = "ticket.transferred.v1"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type TicketIssued struct {
	TicketID        string `json:"ticket_id"`
	EventID         string `json:"event_id"`
	ExternalEventID string `json:"external_event_id"`
	Owner           string `json:"owner"`
	WalletAddress   string `json:"wallet_address"`
	TxHash          string `json:"tx_hash"`
	IssuedAt        string `json:"issued_at"`
}

type TicketTransferred struct {
	TicketID      string `json:"ticket_id"`
	EventID       string `json:"event_id"`
	From          string `json:"from"`
	To            string `json:"to"`
	TransferredAt string `json:"transferred_at"`
}
