package processor

import (
	"context"
	"sync"

	"github.com/drluca/shopstream/auditservice/internal/models"
	"github.com/streadway/amqp"
)

type settlement struct {
	op       string // "ack", "nack" or "reject"
	tag      uint64
	multiple bool
	requeue  bool
}

// ackSpy records every disposition the handler sends back to the broker.
type ackSpy struct {
	mu    sync.Mutex
	calls []settlement
	err   error
}

func (a *ackSpy) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, settlement{op: "ack", tag: tag, multiple: multiple})
	return a.err
}

func (a *ackSpy) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, settlement{op: "nack", tag: tag, multiple: multiple, requeue: requeue})
	return a.err
}

func (a *ackSpy) Reject(tag uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, settlement{op: "reject", tag: tag, requeue: requeue})
	return a.err
}

func (a *ackSpy) Calls() []settlement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]settlement(nil), a.calls...)
}

// recorderSpy keeps audit records in memory, keyed like the store.
type recorderSpy struct {
	mu      sync.Mutex
	records map[models.Collection]map[string]string
	writes  []models.AuditRecord
	err     error
	panics  bool
	// onRecord runs before the write is stored, with the spy unlocked.
	onRecord func()
}

func newRecorderSpy() *recorderSpy {
	return &recorderSpy{records: make(map[models.Collection]map[string]string)}
}

func (r *recorderSpy) Record(_ context.Context, rec models.AuditRecord) (bool, error) {
	if r.onRecord != nil {
		r.onRecord()
	}
	if r.panics {
		panic("recorder exploded")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, rec)
	if r.err != nil {
		return false, r.err
	}
	coll, ok := r.records[rec.Collection]
	if !ok {
		coll = make(map[string]string)
		r.records[rec.Collection] = coll
	}
	_, existed := coll[rec.Field]
	coll[rec.Field] = rec.Value
	return !existed, nil
}

func (r *recorderSpy) Get(c models.Collection, field string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.records[c][field]
	return v, ok
}

func (r *recorderSpy) Count(c models.Collection) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records[c])
}

func (r *recorderSpy) Writes() []models.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AuditRecord(nil), r.writes...)
}

func delivery(ack amqp.Acknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		Body:         []byte(body),
	}
}
