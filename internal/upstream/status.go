package upstream

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Status is one state of the per-connection status machine (spec.md
// §4.5).
type Status string

const (
	StatusDisconnected Status = "Disconnected"
	StatusConnecting   Status = "Connecting"
	StatusConnected    Status = "Connected"
	StatusError        Status = "Error"
	StatusAwaitingOAuth Status = "AwaitingOAuth"
)

// StatusRecord is the immutable snapshot readers copy out of statusBox
// under its read lock, per the "single-writer, snapshot reader" model of
// spec.md §5.
type StatusRecord struct {
	Status          Status
	LastError       error
	LastConnectedAt time.Time
}

// statusBox holds the current StatusRecord behind a mutex; writes come
// only from the connection's own reconnect goroutine, so contention is
// limited to the rare reader racing a transition.
type statusBox struct {
	mu     sync.RWMutex
	record StatusRecord
}

func newStatusBox() *statusBox {
	return &statusBox{record: StatusRecord{Status: StatusDisconnected}}
}

func (b *statusBox) Load() StatusRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.record
}

func (b *statusBox) Store(r StatusRecord) {
	b.mu.Lock()
	b.record = r
	b.mu.Unlock()
}

// newBackoff builds the full-jitter exponential backoff spec.md §4.5
// specifies: initial 1s, factor 2, cap 60s, unbounded attempts. The
// cenkalti/backoff/v5 module (already present as an indirect dependency
// pulled in by the wider example corpus) is reused directly rather than
// hand-rolled, with RandomizationFactor=1 approximating AWS-style full
// jitter (uniform over [0, 2x the nominal interval]).
func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 1
	b.MaxInterval = 60 * time.Second
	b.Reset()
	return b
}
