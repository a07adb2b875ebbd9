package migrations

import (
	"strings"
	"testing"
)

func TestNamesOrdered(t *testing.T) {
	names, err := Names()
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if len(names) < 2 || names[0] != "0001_init.sql" || names[1] != "0002_outbox.sql" {
		t.Fatalf("unexpected migration order %v", names)
	}
}

func TestTicketsTableHasNoOwnerEventUniqueness(t *testing.T) {
	body, err := migrationFiles.ReadFile("0001_init.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(strings.ToUpper(string(body)), "UNIQUE INDEX") {
		t.Fatal("tickets must not carry a unique (owner, event_id) index")
	}
}
