package ingestion

import (
	"context"
	"time"

	"StableLedger/internal/apperrors"
	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Sources label where a request entered the service.
const (
	SourceNATS = "nats"
	SourceHTTP = "http"
)

// Processor applies one event. *core.DeterministicCore satisfies it.
type Processor interface {
	ProcessEvent(evt event.Event) (*core.Receipt, error)
}

// Request is a typed event waiting for the core loop, with a reply slot.
type Request struct {
	Event    event.Event
	Source   string
	Received time.Time
	reply    chan Result
}

// Result is the core's answer to one Request.
type Result struct {
	Receipt *core.Receipt
	Err     error
}

// RequestService submits events from the HTTP surface to the core loop and
// waits for the outcome.
type RequestService struct {
	requests chan<- Request
}

func NewRequestService(requests chan<- Request) *RequestService {
	return &RequestService{requests: requests}
}

// Submit blocks until the core has applied or rejected evt, or ctx is done.
// A request abandoned after it was queued is still applied; its idempotency
// key makes a retry safe.
func (s *RequestService) Submit(ctx context.Context, evt event.Event) (*core.Receipt, error) {
	req := Request{
		Event:    evt,
		Source:   SourceHTTP,
		Received: time.Now(),
		reply:    make(chan Result, 1),
	}

	select {
	case s.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.Receipt, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CoreLoop is the single goroutine that feeds the deterministic core.
// NATS requests are acked once the core has answered, applied or rejected;
// only shutdown and internal failures NAK for redelivery.
type CoreLoop struct {
	proc     Processor
	raw      <-chan RawEvent
	requests <-chan Request
	resolver *SubjectResolver
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewCoreLoop(
	proc Processor,
	raw <-chan RawEvent,
	requests <-chan Request,
	subjects []SubjectConfig,
	metrics *observability.Metrics,
) *CoreLoop {
	return &CoreLoop{
		proc:     proc,
		raw:      raw,
		requests: requests,
		resolver: NewSubjectResolver(subjects),
		metrics:  metrics,
		logger:   observability.NewLogger("core-loop"),
	}
}

// Run drains both inputs until ctx is cancelled or both channels close.
func (l *CoreLoop) Run(ctx context.Context) {
	raw, requests := l.raw, l.requests
	for raw != nil || requests != nil {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-raw:
			if !ok {
				raw = nil
				continue
			}
			l.handleRaw(msg)

		case req, ok := <-requests:
			if !ok {
				requests = nil
				continue
			}
			receipt, err := l.process(req.Event, req.Source, req.Received)
			if req.reply != nil {
				req.reply <- Result{Receipt: receipt, Err: err}
			}
		}
	}
}

func (l *CoreLoop) handleRaw(msg RawEvent) {
	eventType := l.resolver.Resolve(msg.Subject)
	if eventType == "" {
		l.logger.Warn().Str("subject", msg.Subject).Msg("unknown NATS subject")
		ack(msg) // redelivery cannot fix it
		return
	}

	evt, err := ParseRawEvent(msg, eventType)
	if err != nil {
		l.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("parse event failed")
		ack(msg)
		return
	}

	_, err = l.process(evt, SourceNATS, msg.Timestamp)
	if err != nil && apperrors.KindOf(err) == "" {
		nak(msg)
		return
	}
	ack(msg)
}

func (l *CoreLoop) process(evt event.Event, source string, received time.Time) (*core.Receipt, error) {
	receipt, err := l.proc.ProcessEvent(evt)
	if err != nil {
		l.logger.Debug().Err(err).
			Str("event_type", evt.EventType().String()).
			Str("request_id", evt.IdempotencyKey()).
			Str("source", source).
			Msg("request rejected")
		return nil, err
	}

	if l.metrics != nil && !received.IsZero() {
		l.metrics.IngestToApply.WithLabelValues(source).Observe(time.Since(received).Seconds())
	}
	return receipt, nil
}

func ack(msg RawEvent) {
	if msg.AckFunc != nil {
		msg.AckFunc()
	}
}

func nak(msg RawEvent) {
	if msg.NakFunc != nil {
		msg.NakFunc()
	}
}
