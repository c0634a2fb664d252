// Package audit records the iteration history of a backsolve run as an
// append-only, per-request event trail. The trail is an explicit value
// threaded through the computation, not shared state: each request
// creates its own and hands the events back to the caller for
// diagnostics.
package audit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"opm_backsolve/pkg/logging"
)

// Event is one recorded step of a solve.
type Event struct {
	Seq            int       `json:"seq"`
	Time           time.Time `json:"time"`
	Stage          string    `json:"stage"` // bracket, bisection, secant, scenario, allocate, finalize
	CandidateValue float64   `json:"candidate_value"`
	Price          float64   `json:"price"`
	Residual       float64   `json:"residual"`
	Note           string    `json:"note,omitempty"`
}

// Trail accumulates events for one request. A mutex keeps the append
// safe if an embedding handler inspects the trail from a timeout
// goroutine; there is no cross-request sharing.
type Trail struct {
	id      string
	subject string
	started time.Time
	log     *slog.Logger

	mu     sync.Mutex
	events []Event
}

// NewTrail starts a trail for one request. subject names what is being
// solved (security class, scenario) and is attached to mirrored log
// lines.
func NewTrail(subject string) *Trail {
	return &Trail{
		id:      uuid.New().String(),
		subject: subject,
		started: time.Now(),
		log:     logging.Default(),
	}
}

// ID returns the trail's request-scoped identifier.
func (t *Trail) ID() string { return t.id }

// Record appends one event and mirrors it to the service log at debug
// level.
func (t *Trail) Record(stage string, candidate, price, residual float64, note string) {
	t.mu.Lock()
	ev := Event{
		Seq:            len(t.events) + 1,
		Time:           time.Now(),
		Stage:          stage,
		CandidateValue: candidate,
		Price:          price,
		Residual:       residual,
		Note:           note,
	}
	t.events = append(t.events, ev)
	t.mu.Unlock()

	t.log.Debug("backsolve iteration",
		"trail_id", t.id,
		"subject", t.subject,
		"seq", ev.Seq,
		"stage", stage,
		"candidate", candidate,
		"price", price,
		"residual", residual,
	)
}

// Events returns a snapshot of the recorded history in order.
func (t *Trail) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Elapsed is the time since the trail was created.
func (t *Trail) Elapsed() time.Duration { return time.Since(t.started) }
