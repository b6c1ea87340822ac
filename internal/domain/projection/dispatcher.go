package projection

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"unitcast/internal/core/apperror"
	"unitcast/internal/core/entity"
	"unitcast/internal/domain/changefeed"
	"unitcast/pkg/logger"
)

var tracer = otel.Tracer("unitcast/projection")

// Journal receives one entry per dispatched record. Implementations must be
// best-effort: the method has no error return and must never panic the
// batch.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry)
}

// JournalEntry describes the outcome of one dispatched record.
type JournalEntry struct {
	RecordID  string
	EventKind changefeed.EventKind
	Action    Action
	Identity  Identity
	Attrs     entity.Attributes
	Err       error
	At        time.Time
}

// RecordFailure pairs a record reference with its error. Failures surface in
// logs and the journal only, never in the invocation response.
type RecordFailure struct {
	RecordID string
	Err      error
}

// BatchResult summarizes one dispatched batch.
type BatchResult struct {
	Processed int
	Skipped   int
	Failures  []RecordFailure
}

// Outcome is the invocation-level response shape.
type Outcome struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Outcome returns the success-shaped response. Per-record failures never
// surface here: a batch that was dispatched at all reports success.
func (r BatchResult) Outcome() Outcome {
	return Outcome{StatusCode: http.StatusOK, Body: "Success"}
}

// FatalOutcome shapes a batch-level failure: the batch as a whole could not
// be processed (source access, configuration).
func FatalOutcome(err error) Outcome {
	return Outcome{StatusCode: http.StatusInternalServerError, Body: "Error: " + err.Error()}
}

// DispatcherConfig wires the dispatcher's collaborators. Store is required;
// the rest defaults to disabled.
type DispatcherConfig struct {
	Store   Store
	Filter  *changefeed.Filter
	Journal Journal
	Clock   func() time.Time
}

// Dispatcher routes change records to the writer, one batch at a time.
// Records are processed strictly sequentially in delivery order; a failing
// record is captured and the loop continues.
type Dispatcher struct {
	writer  *Writer
	filter  *changefeed.Filter
	journal Journal
	now     func() time.Time
}

// NewDispatcher creates a dispatcher over an already-opened store handle.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		writer:  NewWriter(cfg.Store),
		filter:  cfg.Filter,
		journal: cfg.Journal,
		now:     cfg.Clock,
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// HandleBatch processes the records in order. Every write in the batch
// carries the same lifecycle instant, captured once on entry.
func (d *Dispatcher) HandleBatch(ctx context.Context, records []changefeed.ChangeRecord) BatchResult {
	ctx, span := tracer.Start(ctx, "projection.batch",
		trace.WithAttributes(attribute.Int("batch.size", len(records))))
	defer span.End()

	now := d.now().UTC()

	var result BatchResult
	for i, rec := range records {
		ref := rec.Ref(i)
		if err := d.processRecord(ctx, rec, ref, now, &result); err != nil {
			logger.Error(ctx, "record processing failed",
				"record_id", ref, "event_kind", string(rec.EventKind), "error", err)
			result.Failures = append(result.Failures, RecordFailure{RecordID: ref, Err: err})
		}
	}

	span.SetAttributes(attribute.Int("batch.failed", len(result.Failures)))
	logger.Info(ctx, "batch dispatched",
		"size", len(records),
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", len(result.Failures))
	return result
}

func (d *Dispatcher) processRecord(ctx context.Context, rec changefeed.ChangeRecord, ref string, now time.Time, result *BatchResult) (err error) {
	ctx, span := tracer.Start(ctx, "projection.record",
		trace.WithAttributes(
			attribute.String("record.id", ref),
			attribute.String("record.kind", string(rec.EventKind)),
		))
	defer span.End()

	// A fault in one record must not take down the batch.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing record: %v\n%s", r, debug.Stack())
		}
	}()

	if !rec.EventKind.Known() {
		logger.Warn(ctx, "unknown event kind, record skipped",
			"record_id", ref, "event_kind", string(rec.EventKind))
		result.Skipped++
		d.journalize(ctx, JournalEntry{
			RecordID: ref, EventKind: rec.EventKind, Action: ActionSkipped, At: now,
		})
		return nil
	}

	attrs, err := changefeed.DecodeImage(rec.Image())
	if err != nil {
		return apperror.NewMalformedRecord(ref, err)
	}

	if d.filter != nil {
		matched, err := d.filter.Match(attrs)
		if err != nil {
			return err
		}
		if !matched {
			logger.Debug(ctx, "record filtered out", "record_id", ref)
			result.Skipped++
			d.journalize(ctx, JournalEntry{
				RecordID: ref, EventKind: rec.EventKind, Action: ActionSkipped, Attrs: attrs, At: now,
			})
			return nil
		}
	}

	var disp Disposition
	switch rec.EventKind {
	case changefeed.EventCreated:
		disp, err = d.writer.Create(ctx, attrs, now)
	case changefeed.EventModified:
		disp, err = d.writer.Update(ctx, attrs, now)
	case changefeed.EventRemoved:
		disp, err = d.writer.SoftDelete(ctx, attrs, now)
	}

	entry := JournalEntry{
		RecordID:  ref,
		EventKind: rec.EventKind,
		Action:    disp.Action,
		Identity:  disp.Identity,
		Attrs:     attrs,
		Err:       err,
		At:        now,
	}
	d.journalize(ctx, entry)
	if err != nil {
		return err
	}

	result.Processed++
	return nil
}

func (d *Dispatcher) journalize(ctx context.Context, entry JournalEntry) {
	if d.journal == nil {
		return
	}
	d.journal.Record(ctx, entry)
}
