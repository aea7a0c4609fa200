package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/angelmondragon/loyalty-ledger/pkg/enums"
)

type decodeFunc func(data json.RawMessage) (any, error)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry maps inbound (event type, envelope version) pairs to payload
// decoders. Consumers ack messages whose pair is not registered.
type DecoderRegistry struct {
	mu       sync.RWMutex
	decoders map[decoderKey]decodeFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: make(map[decoderKey]decodeFunc)}
}

func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decode func(json.RawMessage) (any, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[decoderKey{eventType: eventType, version: version}] = decode
}

// RegisterJSON registers a plain json.Unmarshal decoder producing T values.
func RegisterJSON[T any](r *DecoderRegistry, eventType enums.OutboxEventType, version int) {
	r.Register(eventType, version, func(data json.RawMessage) (any, error) {
		var out T
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decode %s@v%d: %w", eventType, version, err)
		}
		return out, nil
	})
}

// Supports reports whether a decoder exists for the pair.
func (r *DecoderRegistry) Supports(eventType enums.OutboxEventType, version int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[decoderKey{eventType: eventType, version: version}]
	return ok
}

func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, data json.RawMessage) (any, error) {
	r.mu.RLock()
	decode, ok := r.decoders[decoderKey{eventType: eventType, version: version}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("decoder not registered for %s@v%d", eventType, version)
	}
	return decode(data)
}
