package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wagate/internal/bridge"
	"wagate/internal/ledger"
	"wagate/pkg/bus"
)

// Resolver reports the ready bridge connection for a session, if any. The
// worker only ever reads handles; it never starts or stops them.
type Resolver interface {
	ReadyClient(sessionID string) bridge.Client
}

// Recorder appends delivery attempts to the message ledger.
type Recorder interface {
	Record(ctx context.Context, rec ledger.Record) (uuid.UUID, error)
}

// Config carries the queue binding for the worker.
type Config struct {
	Subject  string
	Durable  string
	Consumer bus.ConsumerConfig
}

// Worker is the single-concurrency consumer of queued send jobs. Exactly one
// job is in flight at a time, matching the single live connection the
// transport can serialize sends onto. For every attempt a ledger record is
// written before the job outcome reaches the queue engine, so a crash between
// send and ack can duplicate a send but never lose the delivery record.
type Worker struct {
	log      zerolog.Logger
	bus      *bus.Bus
	resolver Resolver
	recorder Recorder
	cfg      Config
}

func NewWorker(log zerolog.Logger, b *bus.Bus, resolver Resolver, recorder Recorder, cfg Config) (*Worker, error) {
	if b == nil {
		return nil, errors.New("bus is required")
	}
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if recorder == nil {
		return nil, errors.New("recorder is required")
	}
	if cfg.Subject == "" || cfg.Durable == "" {
		return nil, errors.New("subject and durable name are required")
	}

	return &Worker{log: log, bus: b, resolver: resolver, recorder: recorder, cfg: cfg}, nil
}

// Start binds the durable consumer. The returned closer drains it.
func (w *Worker) Start(ctx context.Context) (io.Closer, error) {
	return w.bus.Consume(ctx, w.cfg.Subject, w.cfg.Durable, w.cfg.Consumer, w.handle)
}

func (w *Worker) handle(ctx context.Context, data []byte) error {
	var job SendJob
	if err := json.Unmarshal(data, &job); err != nil {
		// A payload that cannot decode will never succeed; drop it
		// instead of cycling through redeliveries.
		droppedTotal.Inc()
		w.log.Error().Err(err).Msg("dropping undecodable send job")
		return nil
	}

	handle := w.resolver.ReadyClient(job.SessionID)
	if handle == nil {
		// Retryable: the operator may complete authentication later.
		err := fmt.Errorf("session %s not ready", job.SessionID)
		w.recordFailure(ctx, job, err)
		return err
	}

	providerID, err := handle.SendText(ctx, bridge.CanonicalAddress(job.To), job.Body)
	if err != nil {
		w.recordFailure(ctx, job, err)
		return err
	}

	return w.recordSuccess(ctx, job, providerID)
}

func (w *Worker) recordFailure(ctx context.Context, job SendJob, cause error) {
	failedTotal.Inc()

	msg := cause.Error()
	rec := ledger.Record{
		SessionID: job.SessionID,
		To:        job.To,
		Body:      job.Body,
		Status:    ledger.StatusFailed,
		Error:     &msg,
	}
	if _, err := w.recorder.Record(ctx, rec); err != nil {
		w.log.Error().Err(err).Str("to", job.To).Msg("failed to record failed attempt")
	}

	w.log.Warn().Err(cause).Str("to", job.To).Str("session", job.SessionID).Msg("send failed; handing back for retry")
}

func (w *Worker) recordSuccess(ctx context.Context, job SendJob, providerID string) error {
	now := time.Now().UTC()
	rec := ledger.Record{
		SessionID: job.SessionID,
		To:        job.To,
		Body:      job.Body,
		Status:    ledger.StatusSent,
		SentAt:    &now,
	}
	if providerID != "" {
		rec.ProviderID = &providerID
	}

	if _, err := w.recorder.Record(ctx, rec); err != nil {
		// The job stays unacked until its record exists; the retry may
		// duplicate the send but the outcome is never lost.
		return fmt.Errorf("record sent attempt: %w", err)
	}

	sentTotal.Inc()
	w.log.Info().Str("to", job.To).Str("session", job.SessionID).Str("provider_id", providerID).Msg("message sent")
	return nil
}
