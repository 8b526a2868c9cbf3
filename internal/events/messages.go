package events

import (
	"encoding/json"
	"time"

	"amigo.app/meal-ledger/internal/store"
)

// LedgerEventMessage announces a ledger write. It carries only identity;
// consumers fetch the record through the HTTP API if they need it.
type LedgerEventMessage struct {
	Entity    string    `json:"entity"`
	Op        string    `json:"op"`
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerEventMessage(ev store.ChangeEvent) *LedgerEventMessage {
	return &LedgerEventMessage{
		Entity:    ev.Entity,
		Op:        ev.Op,
		ID:        ev.ID,
		Timestamp: ev.At,
	}
}

// RoutingKey is "<entity>.<op>", e.g. "meal.insert".
func (m *LedgerEventMessage) RoutingKey() string {
	return m.Entity + "." + m.Op
}

func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
