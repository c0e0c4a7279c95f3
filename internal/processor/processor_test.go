package processor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drluca/shopstream/auditservice/internal/contracts"
	"github.com/drluca/shopstream/auditservice/internal/metrics"
	"github.com/drluca/shopstream/auditservice/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 19, 8, 30, 15, 123000000, time.UTC)

func newTestProcessor(rec Recorder, marker string) (*Processor, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	p := New(rec, marker, metrics.New(reg))
	p.now = func() time.Time { return fixedNow }
	return p, reg
}

func TestProcessor_AcksAndAuditsSuccessfulMessage(t *testing.T) {
	rec := newRecorderSpy()
	ack := &ackSpy{}
	p, _ := newTestProcessor(rec, "hata")

	p.MessageHandler(context.Background(), delivery(ack, 2, "order #2 shipped"))

	require.Equal(t, []settlement{{op: "ack", tag: 2, multiple: false}}, ack.Calls())

	value, ok := rec.Get(models.SuccessDeliveries, "2")
	require.True(t, ok, "success record must be keyed by the delivery tag")
	assert.Equal(t, "2026-10-19T08:30:15.123Z - order #2 shipped", value)
	assert.Equal(t, 1, rec.Count(models.SuccessDeliveries))
	assert.Zero(t, rec.Count(models.ReviewedDeadLetters))
}

func TestProcessor_RejectsMessagesWithFailureMarker(t *testing.T) {
	bodies := []string{
		"order #1 failed: hata occurred",
		"HATA",
		"Kritik Hata bulundu",
		"prefixhatasuffix",
	}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			rec := newRecorderSpy()
			ack := &ackSpy{}
			p, _ := newTestProcessor(rec, "hata")

			p.MessageHandler(context.Background(), delivery(ack, 11, body))

			require.Equal(t, []settlement{{op: "reject", tag: 11, requeue: false}}, ack.Calls())
			assert.Empty(t, rec.Writes(), "failed messages must never reach successDeliveries")
		})
	}
}

func TestProcessor_MarkerConfigIsCaseInsensitive(t *testing.T) {
	rec := newRecorderSpy()
	ack := &ackSpy{}
	p, _ := newTestProcessor(rec, "FaIlUrE")

	p.MessageHandler(context.Background(), delivery(ack, 1, "payment failure detected"))

	require.Len(t, ack.Calls(), 1)
	assert.Equal(t, "reject", ack.Calls()[0].op)
}

func TestProcessor_RejectsWhenAuditStoreUnavailable(t *testing.T) {
	rec := newRecorderSpy()
	rec.err = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
	ack := &ackSpy{}
	p, reg := newTestProcessor(rec, "hata")

	p.MessageHandler(context.Background(), delivery(ack, 5, "order #2 shipped"))

	require.Equal(t, []settlement{{op: "reject", tag: 5, requeue: false}}, ack.Calls())
	assert.Zero(t, rec.Count(models.SuccessDeliveries))

	expected := `
# HELP audit_service_deliveries_total Deliveries handled, by consumer and final disposition.
# TYPE audit_service_deliveries_total counter
audit_service_deliveries_total{consumer="main",disposition="reject"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "audit_service_deliveries_total"))
}

func TestProcessor_RejectsUndecodableBody(t *testing.T) {
	rec := newRecorderSpy()
	ack := &ackSpy{}
	p, _ := newTestProcessor(rec, "hata")

	d := delivery(ack, 9, "")
	d.Body = []byte{0xff, 0xfe, 0x00, 0x41}
	p.MessageHandler(context.Background(), d)

	require.Equal(t, []settlement{{op: "reject", tag: 9, requeue: false}}, ack.Calls())
	assert.Empty(t, rec.Writes())
}

func TestProcessor_RejectsWhenRecorderPanics(t *testing.T) {
	rec := newRecorderSpy()
	rec.panics = true
	ack := &ackSpy{}
	p, _ := newTestProcessor(rec, "hata")

	require.NotPanics(t, func() {
		p.MessageHandler(context.Background(), delivery(ack, 3, "all good"))
	})
	require.Equal(t, []settlement{{op: "reject", tag: 3, requeue: false}}, ack.Calls())
}

func TestProcessor_AuditsBeforeAcknowledging(t *testing.T) {
	rec := newRecorderSpy()
	ack := &ackSpy{}
	var callsDuringAudit []settlement
	rec.onRecord = func() { callsDuringAudit = ack.Calls() }
	p, _ := newTestProcessor(rec, "hata")

	p.MessageHandler(context.Background(), delivery(ack, 4, "ok"))

	assert.Empty(t, callsDuringAudit, "ack must not be sent before the audit write")
	assert.Len(t, ack.Calls(), 1)
}

func TestProcessor_SameTagOverwritesAuditValue(t *testing.T) {
	rec := newRecorderSpy()
	ack := &ackSpy{}
	p, _ := newTestProcessor(rec, "hata")

	p.MessageHandler(context.Background(), delivery(ack, 1, "first"))
	p.MessageHandler(context.Background(), delivery(ack, 1, "second"))

	value, ok := rec.Get(models.SuccessDeliveries, "1")
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(value, " - second"))
	assert.Equal(t, 1, rec.Count(models.SuccessDeliveries))
	assert.Len(t, ack.Calls(), 2)
}

func TestProcessor_AckFailureIsCounted(t *testing.T) {
	rec := newRecorderSpy()
	ack := &ackSpy{err: errors.New("channel/connection is not open")}
	p, reg := newTestProcessor(rec, "hata")

	p.MessageHandler(context.Background(), delivery(ack, 8, "ok"))

	expected := `
# HELP audit_service_disposition_errors_total Ack or reject calls the broker channel refused.
# TYPE audit_service_disposition_errors_total counter
audit_service_disposition_errors_total{consumer="main",disposition="ack"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "audit_service_disposition_errors_total"))
}

func TestProcessor_ConcurrentDeliveriesAreSettledIndependently(t *testing.T) {
	rec := newRecorderSpy()
	ack := &ackSpy{}
	p, _ := newTestProcessor(rec, "hata")

	const n = 50
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		body := "shipped"
		if i%5 == 0 {
			body = "hata"
		}
		wg.Add(1)
		go func(tag uint64, body string) {
			defer wg.Done()
			p.MessageHandler(context.Background(), delivery(ack, tag, body))
		}(uint64(i), body)
	}
	wg.Wait()

	var acks, rejects int
	for _, c := range ack.Calls() {
		switch c.op {
		case "ack":
			acks++
			assert.False(t, c.multiple)
		case "reject":
			rejects++
			assert.False(t, c.requeue)
		default:
			t.Fatalf("unexpected settlement %q", c.op)
		}
	}
	assert.Equal(t, 40, acks)
	assert.Equal(t, 10, rejects)
	assert.Equal(t, 40, rec.Count(models.SuccessDeliveries))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify("order shipped", "hata"))
	assert.ErrorIs(t, Classify("ORDER HATA", "hata"), contracts.ErrFailureMarker)
}

func TestDecode(t *testing.T) {
	text, err := Decode([]byte("merhaba dünya"))
	require.NoError(t, err)
	assert.Equal(t, "merhaba dünya", text)

	_, err = Decode([]byte{0xc3, 0x28})
	assert.ErrorIs(t, err, contracts.ErrDecode)
}
