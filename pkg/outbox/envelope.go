package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const envelopeVersion = 1

// ErrMalformedEnvelope marks payloads that can never be decoded, no matter
// how often they are retried.
var ErrMalformedEnvelope = errors.New("malformed outbox envelope")

// PayloadEnvelope wraps every event body stored in outbox_events and sent on
// the wire. EventID matches the outbox row id.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Source     string          `json:"source,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func newEnvelope(id uuid.UUID, version int, occurredAt time.Time, source string, data any) (PayloadEnvelope, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("encode event data: %w", err)
	}
	if version <= 0 {
		version = envelopeVersion
	}
	return PayloadEnvelope{
		Version:    version,
		EventID:    id.String(),
		OccurredAt: occurredAt.UTC(),
		Source:     source,
		Data:       body,
	}, nil
}

// DecodeEnvelope parses raw and checks the fields every consumer relies on.
// A missing version is read as 1.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if _, err := uuid.Parse(env.EventID); err != nil {
		return env, fmt.Errorf("%w: event id %q", ErrMalformedEnvelope, env.EventID)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return env, fmt.Errorf("%w: data missing", ErrMalformedEnvelope)
	}
	if env.Version <= 0 {
		env.Version = envelopeVersion
	}
	return env, nil
}

// ID returns the parsed event id. It is only valid on envelopes returned by
// DecodeEnvelope or built by Emit.
func (e PayloadEnvelope) ID() uuid.UUID {
	id, _ := uuid.Parse(e.EventID)
	return id
}
