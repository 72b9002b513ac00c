// Package pipeline runs one ingestion pass: fetch every page, archive the raw
// batch, replace the stored data set, and announce the outcome.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/sbir-solicitations/internal/grants"
	"github.com/JakeFAU/sbir-solicitations/internal/metrics"
)

// BatchFetcher collects the raw records of a run.
type BatchFetcher interface {
	Run(ctx context.Context) ([]grants.RawRecord, error)
}

// BatchLoader writes a fetched batch.
type BatchLoader interface {
	Load(ctx context.Context, records []grants.RawRecord) (grants.LoadSummary, error)
}

// Config controls the optional side outputs of a run.
type Config struct {
	// ArchivePrefix is the object prefix for raw batches.
	ArchivePrefix string
	// Topic receives the run summary. Empty disables notification.
	Topic string
}

const tracerName = "github.com/JakeFAU/sbir-solicitations/internal/pipeline"

// Deps are the collaborators of a Pipeline. Archive and Publisher are
// optional; Tracer defaults to the global provider.
type Deps struct {
	Fetcher   BatchFetcher
	Loader    BatchLoader
	Archive   grants.BlobStore
	Publisher grants.Publisher
	Hasher    grants.Hasher
	Clock     grants.Clock
	IDs       grants.IDGenerator
	Tracer    trace.Tracer
}

// Pipeline orchestrates an ingestion run.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and builds a Pipeline.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case deps.Loader == nil:
		return nil, errors.New("pipeline: loader is required")
	case deps.Clock == nil:
		return nil, errors.New("pipeline: clock is required")
	case deps.IDs == nil:
		return nil, errors.New("pipeline: id generator is required")
	case deps.Archive != nil && deps.Hasher == nil:
		return nil, errors.New("pipeline: hasher is required when archiving")
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "raw"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger}, nil
}

// Run executes one ingestion pass. The summary is returned on failure too.
// Fetching finishes before the store is touched, so a run that cannot reach
// upstream leaves the previous data set in place.
func (p *Pipeline) Run(ctx context.Context) (grants.RunSummary, error) {
	ctx, span := p.deps.Tracer.Start(ctx, "etl.run")
	defer span.End()

	summary := grants.RunSummary{StartedAt: p.deps.Clock.Now()}
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return p.finish(ctx, summary, fmt.Errorf("assign run id: %w", err))
	}
	summary.RunID = runID
	span.SetAttributes(attribute.String("run_id", runID))

	fetchCtx, fetchSpan := p.deps.Tracer.Start(ctx, "etl.fetch")
	records, err := p.deps.Fetcher.Run(fetchCtx)
	fetchSpan.SetAttributes(attribute.Int("records", len(records)))
	endSpan(fetchSpan, err)
	if err != nil {
		return p.finish(ctx, summary, fmt.Errorf("fetch solicitations: %w", err))
	}
	summary.Fetched = len(records)

	p.archive(ctx, records, &summary)

	loadCtx, loadSpan := p.deps.Tracer.Start(ctx, "etl.load")
	load, err := p.deps.Loader.Load(loadCtx, records)
	loadSpan.SetAttributes(
		attribute.Int("solicitations_inserted", load.Solicitations.Inserted),
		attribute.Int("topics_inserted", load.Topics.Inserted),
		attribute.Int("subtopics_inserted", load.Subtopics.Inserted),
	)
	endSpan(loadSpan, err)
	summary.Load = load
	if err != nil {
		return p.finish(ctx, summary, fmt.Errorf("load solicitations: %w", err))
	}
	return p.finish(ctx, summary, nil)
}

// ArchivePath is the object path of a run's raw batch.
func (p *Pipeline) ArchivePath(runID string) string {
	return path.Join(p.cfg.ArchivePrefix, runID, "solicitations.json")
}

func (p *Pipeline) archive(ctx context.Context, records []grants.RawRecord, summary *grants.RunSummary) {
	if p.deps.Archive == nil {
		return
	}
	ctx, span := p.deps.Tracer.Start(ctx, "etl.archive")
	defer span.End()
	logger := p.logger.With(zap.String("run_id", summary.RunID))
	if records == nil {
		records = []grants.RawRecord{}
	}
	body, err := json.Marshal(records)
	if err != nil {
		logger.Warn("archive skipped: encode batch", zap.Error(err))
		return
	}
	digest, err := p.deps.Hasher.Hash(body)
	if err != nil {
		logger.Warn("archive skipped: hash batch", zap.Error(err))
		return
	}
	uri, err := p.deps.Archive.PutObject(ctx, p.ArchivePath(summary.RunID), "application/json", bytes.NewReader(body))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("archive upload failed", zap.Error(err))
		return
	}
	span.SetAttributes(attribute.String("uri", uri), attribute.Int("bytes", len(body)))
	summary.ArchiveURI = uri
	summary.ArchiveSHA256 = digest
	logger.Info("raw batch archived",
		zap.String("uri", uri),
		zap.String("sha256", digest),
		zap.Int("bytes", len(body)),
	)
}

func (p *Pipeline) finish(ctx context.Context, summary grants.RunSummary, runErr error) (grants.RunSummary, error) {
	summary.FinishedAt = p.deps.Clock.Now()
	elapsed := summary.FinishedAt.Sub(summary.StartedAt)
	summary.Status = grants.RunSucceeded
	if runErr != nil {
		summary.Status = grants.RunFailed
		summary.Error = runErr.Error()
	}
	metrics.ObserveRun(string(summary.Status), elapsed)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("status", string(summary.Status)), attribute.Int("fetched", summary.Fetched))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}

	fields := []zap.Field{
		zap.String("run_id", summary.RunID),
		zap.Int("fetched", summary.Fetched),
		zap.Any("load", summary.Load),
		zap.Duration("elapsed", elapsed),
	}
	if runErr != nil {
		p.logger.Error("ETL run failed", append(fields, zap.Error(runErr))...)
	} else {
		p.logger.Info("ETL run completed", fields...)
	}

	p.notify(ctx, summary)
	return summary, runErr
}

func (p *Pipeline) notify(ctx context.Context, summary grants.RunSummary) {
	if p.deps.Publisher == nil || p.cfg.Topic == "" {
		return
	}
	// The run context may already be canceled; the notification still goes out.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	id, err := p.deps.Publisher.Publish(pubCtx, p.cfg.Topic, summary)
	if err != nil {
		p.logger.Warn("run notification failed",
			zap.String("run_id", summary.RunID), zap.String("topic", p.cfg.Topic), zap.Error(err))
		return
	}
	p.logger.Debug("run notification published",
		zap.String("run_id", summary.RunID), zap.String("message_id", id))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
