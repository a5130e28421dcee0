package kafka

import (
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/go-flower-orders/internal/events"
)

func DecodeEnvelope(b []byte) (events.Envelope, error) {
	var env events.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return events.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
