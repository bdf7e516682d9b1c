package store

import "time"

// Entry is one persisted cache row. Payload is opaque to the store; the
// cache layer owns its encoding.
type Entry struct {
	Key       string
	Name      string
	Payload   []byte
	CreatedAt time.Time
}
