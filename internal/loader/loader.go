// Package loader writes a fetched batch into the store, one level at a time,
// so a bad record only costs its own subtree.
package loader

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sbir-solicitations/internal/grants"
	"github.com/JakeFAU/sbir-solicitations/internal/metrics"
	"github.com/JakeFAU/sbir-solicitations/internal/validate"
)

// Entity labels used in logs and metrics.
const (
	EntitySolicitation = "solicitation"
	EntityTopic        = "topic"
	EntitySubtopic     = "subtopic"
)

// Record results used in metrics.
const (
	ResultInserted = "inserted"
	ResultInvalid  = "invalid"
	ResultFailed   = "failed"
)

// Loader replaces the stored data set with a freshly fetched batch.
type Loader struct {
	store  grants.Store
	gate   *validate.Gate
	logger *zap.Logger
}

// New creates a Loader. gate may be nil to use a default validate.Gate.
func New(store grants.Store, gate *validate.Gate, logger *zap.Logger) *Loader {
	if gate == nil {
		gate = validate.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{store: store, gate: gate, logger: logger}
}

// Load clears the store once, then inserts each solicitation followed by its
// topics and their subtopics. Invalid or failed records are logged and
// skipped together with their descendants; siblings are unaffected. Only a
// failed reset or a canceled context returns an error.
func (l *Loader) Load(ctx context.Context, records []grants.RawRecord) (grants.LoadSummary, error) {
	var summary grants.LoadSummary
	if l.store == nil {
		return summary, fmt.Errorf("loader: store is required")
	}
	if err := l.store.Reset(ctx); err != nil {
		return summary, fmt.Errorf("reset store: %w", err)
	}

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("load interrupted after %d of %d records: %w", i, len(records), err)
		}
		l.loadSolicitation(ctx, rec, &summary)
	}

	l.logger.Info("batch loaded",
		zap.Int("records", len(records)),
		zap.Any("solicitations", summary.Solicitations),
		zap.Any("topics", summary.Topics),
		zap.Any("subtopics", summary.Subtopics),
	)
	return summary, nil
}

func (l *Loader) loadSolicitation(ctx context.Context, rec grants.RawRecord, summary *grants.LoadSummary) {
	res := l.gate.Solicitation(rec)
	if !res.OK() {
		l.invalid(EntitySolicitation, rec, res.Violations, &summary.Solicitations)
		return
	}
	id, err := l.store.InsertSolicitation(ctx, res.Record)
	if err != nil {
		l.failed(EntitySolicitation, rec, err, &summary.Solicitations)
		return
	}
	l.inserted(EntitySolicitation, &summary.Solicitations)

	for _, raw := range rec.Topics() {
		l.loadTopic(ctx, raw, id, summary)
	}
}

func (l *Loader) loadTopic(ctx context.Context, raw any, solicitationID int64, summary *grants.LoadSummary) {
	res := l.gate.Topic(raw, solicitationID)
	if !res.OK() {
		l.invalid(EntityTopic, raw, res.Violations, &summary.Topics)
		return
	}
	id, err := l.store.InsertTopic(ctx, res.Record)
	if err != nil {
		l.failed(EntityTopic, raw, err, &summary.Topics)
		return
	}
	l.inserted(EntityTopic, &summary.Topics)

	// The gate accepted raw, so it is an object.
	rec, _ := grants.AsRecord(raw)
	for _, sub := range rec.Subtopics() {
		l.loadSubtopic(ctx, sub, id, summary)
	}
}

func (l *Loader) loadSubtopic(ctx context.Context, raw any, topicID int64, summary *grants.LoadSummary) {
	res := l.gate.Subtopic(raw, topicID)
	if !res.OK() {
		l.invalid(EntitySubtopic, raw, res.Violations, &summary.Subtopics)
		return
	}
	if _, err := l.store.InsertSubtopic(ctx, res.Record); err != nil {
		l.failed(EntitySubtopic, raw, err, &summary.Subtopics)
		return
	}
	l.inserted(EntitySubtopic, &summary.Subtopics)
}

func (l *Loader) inserted(entity string, counts *grants.Counts) {
	counts.Inserted++
	metrics.ObserveRecord(entity, ResultInserted)
}

func (l *Loader) invalid(entity string, raw any, violations []validate.Violation, counts *grants.Counts) {
	counts.Invalid++
	metrics.ObserveRecord(entity, ResultInvalid)
	l.logger.Warn("record failed validation, skipping it and its children",
		zap.String("entity", entity),
		zap.String("ref", ref(raw)),
		zap.Any("violations", violations),
		zap.Any("record", raw),
	)
}

func (l *Loader) failed(entity string, raw any, err error, counts *grants.Counts) {
	counts.Failed++
	metrics.ObserveRecord(entity, ResultFailed)
	l.logger.Error("record insert failed, skipping it and its children",
		zap.String("entity", entity),
		zap.String("ref", ref(raw)),
		zap.Error(err),
		zap.Any("record", raw),
	)
}

func ref(raw any) string {
	if rec, ok := grants.AsRecord(raw); ok {
		return rec.Ref()
	}
	return fmt.Sprintf("%T", raw)
}
