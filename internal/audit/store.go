package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drluca/shopstream/auditservice/internal/metrics"
	"github.com/drluca/shopstream/auditservice/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrUnknownCollection is returned when a record names a collection with no configured store key.
var ErrUnknownCollection = errors.New("unknown audit collection")

// Store writes one field into a named record collection.
// RecordField reports whether the write created a new field (true) or
// overwrote an existing one (false). Implementations must be safe for
// concurrent use; concurrent writes to the same field are last-writer-wins.
type Store interface {
	RecordField(ctx context.Context, collection, field, value string) (created bool, err error)
	Close() error
}

// Recorder maps logical collections onto store keys and bounds every write
// with a timeout.
type Recorder struct {
	store   Store
	names   map[models.Collection]string
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewRecorder creates a Recorder. successKey and reviewedKey are the physical
// collection names for successDeliveries and reviewedDeadLetters.
func NewRecorder(store Store, successKey, reviewedKey string, timeout time.Duration, m *metrics.Metrics) *Recorder {
	return &Recorder{
		store: store,
		names: map[models.Collection]string{
			models.SuccessDeliveries:   successKey,
			models.ReviewedDeadLetters: reviewedKey,
		},
		timeout: timeout,
		metrics: m,
	}
}

// Record persists rec and surfaces the store's new-field signal.
func (r *Recorder) Record(ctx context.Context, rec models.AuditRecord) (bool, error) {
	name, ok := r.names[rec.Collection]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownCollection, rec.Collection)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	created, err := r.store.RecordField(ctx, name, rec.Field, rec.Value)
	if err != nil {
		r.metrics.AuditWrite(name, metrics.AuditError)
		return false, fmt.Errorf("record %s[%s]: %w", name, rec.Field, err)
	}

	if created {
		r.metrics.AuditWrite(name, metrics.AuditNew)
	} else {
		r.metrics.AuditWrite(name, metrics.AuditOverwrite)
		log.Warn().Str("collection", name).Str("field", rec.Field).Msg("Audit field already existed, value overwritten")
	}
	log.Debug().Str("collection", name).Str("field", rec.Field).Bool("newField", created).Msg("Audit record written")
	return created, nil
}
