package models

import "time"

// Event is the envelope delivered to bus subscribers. It is built once at
// publish time and must not be mutated afterwards; the same value is shared
// by the topic history and every subscriber queue.
type Event struct {
	Topic     string                 `json:"topic"`
	Timestamp time.Time              `json:"ts"`
	Payload   map[string]interface{} `json:"payload"`
}

// Kind returns the payload "type" discriminator used by stream routing,
// or an empty string when the payload carries none.
func (e Event) Kind() string {
	if e.Payload == nil {
		return ""
	}
	kind, _ := e.Payload["type"].(string)
	return kind
}
