// Package pipeline runs one ranking through generation, extract build,
// upload, publish and job tracking, and reports the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/withObsrvr/top10-publisher/internal/extract"
	"github.com/withObsrvr/top10-publisher/internal/history"
	"github.com/withObsrvr/top10-publisher/internal/logging"
	"github.com/withObsrvr/top10-publisher/internal/metrics"
	"github.com/withObsrvr/top10-publisher/internal/publish"
	"github.com/withObsrvr/top10-publisher/internal/ranking"
	"github.com/withObsrvr/top10-publisher/internal/storage"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// Options configure a Pipeline. They are copied at construction.
type Options struct {
	ScratchDir   string
	Cleanup      CleanupPolicy
	Dataset      string
	Actions      []publish.Action
	ChunkSize    int
	PollInterval time.Duration
	WaitTimeout  time.Duration
	// Force publishes a batch even when history shows it already succeeded.
	Force bool
}

// Pipeline publishes rankings. It holds no per-run state, so one Pipeline
// may serve concurrent runs; runs against the same dataset are not
// serialized.
type Pipeline struct {
	opts    Options
	gen     ranking.Generator
	builder *extract.Builder
	svc     publish.Service

	archive        storage.Store
	archiveBackend string
	history        history.Recorder
	metrics        *metrics.Metrics
	now            func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithArchive copies every successfully published extract to store.
func WithArchive(store storage.Store, backend string) Option {
	return func(p *Pipeline) {
		p.archive = store
		p.archiveBackend = backend
	}
}

// WithHistory records attempts and enables skipping published batches.
func WithHistory(h history.Recorder) Option {
	return func(p *Pipeline) { p.history = h }
}

// WithMetrics records run metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides the wall clock used for timestamps and request ids.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline.
func New(opts Options, gen ranking.Generator, store extract.Store, svc publish.Service, options ...Option) *Pipeline {
	if opts.ScratchDir == "" {
		opts.ScratchDir = filepath.Join("data", "temp")
	}
	if opts.Cleanup == "" {
		opts.Cleanup = DefaultCleanup
	}
	if len(opts.Actions) == 0 {
		opts.Actions = publish.DefaultActions(publish.ActionInsert, extract.DefaultNamespace, extract.RankingsTable)
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = publish.DefaultWaitTimeout
	}

	p := &Pipeline{
		opts:    opts,
		gen:     gen,
		builder: extract.NewBuilder(store),
		svc:     svc,
		history: history.Noop{},
		now:     time.Now,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

func (p *Pipeline) runLogger(ctx context.Context, topic string) (context.Context, *slog.Logger) {
	id := logging.CorrelationID(ctx)
	if id == "" {
		id = logging.GenerateCorrelationID()
		ctx = logging.WithCorrelationID(ctx, id)
	}
	return ctx, logging.RunLogger(id, topic, p.opts.Dataset)
}

// Run generates a ranking for topic and publishes it.
func (p *Pipeline) Run(ctx context.Context, topic string) *Report {
	ctx, log := p.runLogger(ctx, topic)
	start := time.Now()

	log.Info("generating ranking")
	result, err := p.gen.Generate(ctx, topic)
	if err != nil {
		rep := p.newReport(topic, 0)
		return p.fail(ctx, log, rep, nil, StageGenerate, err)
	}
	log.Info("ranking generated", "items", len(result.Items), "duration_ms", time.Since(start).Milliseconds())

	return p.publish(ctx, log, result, start)
}

// PublishRanking publishes an already generated ranking.
func (p *Pipeline) PublishRanking(ctx context.Context, result *ranking.Result) *Report {
	if result == nil {
		return p.fail(ctx, slog.Default(), p.newReport("", 0), nil, StageValidate, ranking.ErrInvalid)
	}
	ctx, log := p.runLogger(ctx, result.Topic)
	return p.publish(ctx, log, result, time.Now())
}

func (p *Pipeline) newReport(topic string, items int) *Report {
	return &Report{
		Details: Details{
			Topic:      topic,
			ItemsCount: items,
			Dataset:    p.opts.Dataset,
			Timestamp:  p.now().UTC(),
		},
	}
}

func (p *Pipeline) publish(ctx context.Context, log *slog.Logger, r *ranking.Result, start time.Time) *Report {
	labels := metrics.Labels{Dataset: p.opts.Dataset}
	defer p.metrics.RunStarted()()
	defer func() { p.metrics.ObserveRunDuration(labels, time.Since(start).Seconds()) }()

	rep := p.newReport(r.Topic, len(r.Items))
	if err := r.Validate(); err != nil {
		return p.fail(ctx, log, rep, nil, StageValidate, err)
	}
	rep.Details.Items = summarize(r.Items)

	rows, err := extract.Convert(r)
	if err != nil {
		return p.fail(ctx, log, rep, nil, StageConvert, err)
	}
	batchID := extract.BatchID(r.Topic, r.GeneratedAt)
	rep.Details.BatchID = batchID
	log = log.With("batch_id", batchID)

	rec := &history.Record{
		Topic:     r.Topic,
		Dataset:   p.opts.Dataset,
		BatchID:   batchID,
		Rows:      int64(len(rows)),
		StartedAt: p.now().UTC(),
	}

	if !p.opts.Force {
		prev, err := p.history.LastSuccess(ctx, p.opts.Dataset, batchID)
		switch {
		case err == nil:
			log.Info("batch already published, skipping", "job_id", prev.JobID, "request_id", prev.RequestID)
			rep.Status = StatusSuccess
			rep.Skipped = true
			rep.Message = fmt.Sprintf("Top 10 %s already published as job %s", r.Topic, prev.JobID)
			rep.Details.JobID = prev.JobID
			rep.Details.RequestID = prev.RequestID
			rep.Details.JobStatus = string(publish.StatusSucceeded)
			p.metrics.IncRuns(metrics.Labels{Dataset: p.opts.Dataset, Status: "skipped"})
			return rep
		case !errors.Is(err, history.ErrNoRecord):
			// Continue without idempotency check - history is optional
			log.Warn("history lookup failed", "error", err)
		}
	}

	// The request id also names the scratch file so concurrent runs of one
	// batch never share an extract.
	requestID := publish.NewRequestID(p.now())
	rep.Details.RequestID = requestID
	rec.RequestID = requestID
	log = log.With("request_id", requestID)

	path := filepath.Join(p.opts.ScratchDir, extract.ScratchFileName(batchID, requestID))
	buildStart := time.Now()
	if _, err := p.builder.Build(path, extract.RankingsDefinition(), rows); err != nil {
		return p.fail(ctx, log, rep, rec, StageBuild, err)
	}
	p.metrics.ObserveBuildDuration(labels, time.Since(buildStart).Seconds())
	rep.Details.ExtractPath = path

	succeeded := false
	defer func() { p.cleanup(log, path, succeeded) }()

	data, err := os.ReadFile(path)
	if err != nil {
		return p.fail(ctx, log, rep, rec, StageBuild, fmt.Errorf("read extract: %w", err))
	}
	rec.Bytes = int64(len(data))
	rec.Checksum = extract.ComputeChecksum(data)
	p.metrics.ObserveExtract(labels, float64(len(rows)), float64(len(data)))

	// One authenticated session for the rest of the run.
	sess, err := p.svc.SignIn(ctx)
	if err != nil {
		return p.fail(ctx, log, rep, rec, StageSignIn, err)
	}
	defer func() {
		if err := sess.SignOut(context.WithoutCancel(ctx)); err != nil {
			log.Warn("sign out failed", "error", err)
		}
	}()

	coord := publish.NewCoordinator(sess)
	ds, err := coord.Resolve(ctx, p.opts.Dataset)
	if err != nil {
		return p.fail(ctx, log, rep, rec, StageResolve, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return p.fail(ctx, log, rep, rec, StageUpload, &publish.TransferError{Op: "read", Err: err})
	}
	defer f.Close()

	uploadStart := time.Now()
	sessionID, _, err := publish.NewUploader(sess, p.opts.ChunkSize).Upload(ctx, f, publish.ContentType)
	if err != nil {
		return p.fail(ctx, log, rep, rec, StageUpload, err)
	}
	p.metrics.ObserveUploadDuration(labels, time.Since(uploadStart).Seconds())

	jobID, err := coord.Submit(ctx, ds, sessionID, p.opts.Actions, requestID)
	if err != nil {
		return p.fail(ctx, log, rep, rec, StagePublish, err)
	}
	rep.Details.JobID = jobID
	rec.JobID = jobID

	waitStart := time.Now()
	out, err := publish.NewTracker(sess, p.opts.PollInterval).Wait(ctx, jobID, p.opts.WaitTimeout)
	p.metrics.ObserveWaitDuration(labels, time.Since(waitStart).Seconds())
	p.metrics.AddJobPolls(labels, float64(out.Polls))
	rep.Details.JobStatus = string(out.Status)
	rep.Details.JobNotes = out.Notes
	if err != nil {
		return p.fail(ctx, log, rep, rec, StageWait, err)
	}

	succeeded = true
	p.archiveExtract(ctx, log, rep, rec, data)

	rec.Status = history.StatusSucceeded
	rec.FinishedAt = p.now().UTC()
	p.record(ctx, log, rec)

	rep.Status = StatusSuccess
	rep.Message = fmt.Sprintf("Successfully generated and published top 10 %s", r.Topic)
	p.metrics.IncRuns(metrics.Labels{Dataset: p.opts.Dataset, Status: StatusSuccess})
	log.Info("publish complete",
		"job_id", jobID,
		"rows", len(rows),
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return rep
}

// fail finalizes rep as a failure at stage. rec is nil before the batch id
// is known.
func (p *Pipeline) fail(ctx context.Context, log *slog.Logger, rep *Report, rec *history.Record, stage Stage, err error) *Report {
	rep.Status = StatusFailure
	rep.Stage = stage
	rep.Error = err.Error()
	rep.Message = fmt.Sprintf("Failed to publish top 10 %s: %s stage failed", rep.Details.Topic, stage)
	rep.err = err

	log.Error("publish failed", "stage", stage, "error", err)
	p.metrics.IncRuns(metrics.Labels{Dataset: p.opts.Dataset, Status: StatusFailure})
	p.metrics.IncStageFailures(metrics.Labels{Dataset: p.opts.Dataset, Stage: string(stage)})

	if rec != nil {
		rec.Status = history.StatusFailed
		var te *publish.TimeoutError
		if errors.As(err, &te) {
			rec.Status = history.StatusTimedOut
		}
		rec.Stage = string(stage)
		rec.Error = err.Error()
		rec.FinishedAt = p.now().UTC()
		p.record(ctx, log, rec)
	}
	return rep
}

func (p *Pipeline) record(ctx context.Context, log *slog.Logger, rec *history.Record) {
	if err := p.history.Record(context.WithoutCancel(ctx), *rec); err != nil {
		log.Warn("failed to record publish history", "error", err)
		p.metrics.IncHistoryErrors()
	}
}

func (p *Pipeline) archiveExtract(ctx context.Context, log *slog.Logger, rep *Report, rec *history.Record, data []byte) {
	if p.archive == nil {
		return
	}
	file := extract.FileName(rec.BatchID)
	ref := storage.ExtractRef{Dataset: rec.Dataset, BatchID: rec.BatchID, File: file}

	exists, err := p.archive.Exists(ctx, ref)
	if err != nil {
		log.Warn("failed to check archive", "error", err)
		p.metrics.IncArchiveErrors(metrics.Labels{Backend: p.archiveBackend})
		return
	}
	if exists {
		// Only forced re-publishes reach this point.
		log.Warn("replacing archived extract", "uri", p.archive.URI(ref.Path(p.archive.Prefix())))
		rep.Details.ArchiveReplaced = true
	}
	manifest := &storage.Manifest{
		Extract: storage.ExtractInfo{
			File:     file,
			Table:    extract.RankingsDefinition().QualifiedName(),
			Checksum: rec.Checksum,
			RowCount: rec.Rows,
			ByteSize: rec.Bytes,
		},
		Publish: storage.PublishInfo{
			Topic:     rec.Topic,
			Dataset:   rec.Dataset,
			BatchID:   rec.BatchID,
			RequestID: rec.RequestID,
			JobID:     rec.JobID,
		},
		Producer: storage.ProducerInfo{
			Name:    "top10-publisher",
			Version: Version,
			GitSHA:  GitSHA,
		},
		CreatedAt: p.now().UTC(),
	}

	res, err := storage.Archive(ctx, p.archive, ref, data, manifest)
	if err != nil {
		// The publish already succeeded; a missing archive copy is not fatal.
		log.Warn("failed to archive extract", "error", err)
		p.metrics.IncArchiveErrors(metrics.Labels{Backend: p.archiveBackend})
		return
	}
	info, err := p.archive.Head(ctx, ref.Path(p.archive.Prefix()))
	if err != nil || info.Size != int64(len(data)) {
		log.Warn("archived extract does not match upload", "uri", res.ExtractURI, "error", err)
		p.metrics.IncArchiveErrors(metrics.Labels{Backend: p.archiveBackend})
		return
	}
	rep.Details.ArchiveURI = res.ExtractURI
	log.Debug("extract archived", "uri", res.ExtractURI, "bytes", info.Size)
}

func (p *Pipeline) cleanup(log *slog.Logger, path string, succeeded bool) {
	if p.opts.Cleanup.Keep(succeeded) {
		log.Debug("keeping extract", "path", path, "policy", p.opts.Cleanup)
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to remove extract", "path", path, "error", err)
		return
	}
	log.Debug("extract removed", "path", path, "policy", p.opts.Cleanup)
}

// CheckJob reports the state of a previously submitted job, optionally
// waiting for it to finish.
func (p *Pipeline) CheckJob(ctx context.Context, jobID string, wait bool) (publish.Outcome, error) {
	sess, err := p.svc.SignIn(ctx)
	if err != nil {
		return publish.Outcome{JobID: jobID}, err
	}
	defer sess.SignOut(context.WithoutCancel(ctx))

	tracker := publish.NewTracker(sess, p.opts.PollInterval)
	if !wait {
		return tracker.Status(ctx, jobID)
	}
	return tracker.Wait(ctx, jobID, p.opts.WaitTimeout)
}
