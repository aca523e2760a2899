// Package syncer reconciles the domain store with the external source and
// keeps serving the last good snapshot while the source is degraded.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/domain-sentinel/internal/metrics"
	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

// DefaultFailureThreshold is the failure streak at which fallback is logged loudly.
const DefaultFailureThreshold = 3

// Mode describes which record list a sync run reconciled against.
type Mode string

// Sync modes.
const (
	ModeLive     Mode = "live"
	ModeFallback Mode = "fallback"
	ModeSkipped  Mode = "skipped"
)

// Config tunes the resiliencer.
type Config struct {
	FailureThreshold int
	// ArchivePrefix is the blob path prefix for archived snapshots.
	ArchivePrefix string
}

// Report summarizes one Sync call.
type Report struct {
	Mode                Mode
	ConsecutiveFailures int
	Plan                Plan
	Created             int
	Updated             int
	Removed             int
	Errors              []error
}

// Resiliencer owns the last good snapshot and the failure streak. Both are
// process local and guarded by mu; concurrent Sync calls run one at a time.
type Resiliencer struct {
	client  pipeline.SourceClient
	store   pipeline.DomainStore
	archive pipeline.BlobStore
	clock   pipeline.Clock
	cfg     Config
	logger  *zap.Logger

	mu       sync.Mutex
	snapshot []pipeline.DomainRecord
	failures int
}

// New creates a Resiliencer. archive may be nil.
func New(
	client pipeline.SourceClient,
	store pipeline.DomainStore,
	archive pipeline.BlobStore,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Resiliencer, error) {
	if client == nil || store == nil {
		return nil, errors.New("source client and domain store are required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "snapshots"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resiliencer{
		client:  client,
		store:   store,
		archive: archive,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("syncer"),
	}, nil
}

// ConsecutiveFailures returns the current failure streak.
func (r *Resiliencer) ConsecutiveFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// Sync fetches the remote list and reconciles the store with it, falling back
// to the last good snapshot when the fetch fails. It never returns an error.
func (r *Resiliencer) Sync(ctx context.Context) Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	remote, err := r.client.FetchDomains(ctx)
	if err == nil {
		return r.syncLive(ctx, remote)
	}

	r.failures++
	logger := r.logger.With(zap.Int("consecutive_failures", r.failures))
	logger.Error("fetch from external source failed", zap.Error(err))

	// An empty snapshot is never served; it would wipe the store.
	if len(r.snapshot) == 0 {
		logger.Warn("no snapshot available; leaving store untouched")
		metrics.ObserveSync(string(ModeSkipped), r.failures)
		return Report{Mode: ModeSkipped, ConsecutiveFailures: r.failures}
	}
	if r.failures >= r.cfg.FailureThreshold {
		logger.Warn("serving from fallback snapshot",
			zap.Int("threshold", r.cfg.FailureThreshold),
			zap.Int("snapshot_size", len(r.snapshot)),
		)
	} else {
		logger.Info("reconciling against last good snapshot", zap.Int("snapshot_size", len(r.snapshot)))
	}

	report := r.reconcile(ctx, r.snapshot)
	report.Mode = ModeFallback
	report.ConsecutiveFailures = r.failures
	metrics.ObserveSync(string(ModeFallback), r.failures)
	return report
}

func (r *Resiliencer) syncLive(ctx context.Context, remote []pipeline.DomainRecord) Report {
	r.snapshot = append([]pipeline.DomainRecord(nil), remote...)
	if r.failures > 0 {
		r.logger.Info("external source recovered; resetting failure counter",
			zap.Int("previous_failures", r.failures))
	}
	r.failures = 0
	r.archiveSnapshot(ctx, remote)

	report := r.reconcile(ctx, remote)
	report.Mode = ModeLive
	metrics.ObserveSync(string(ModeLive), 0)
	return report
}

func (r *Resiliencer) reconcile(ctx context.Context, remote []pipeline.DomainRecord) Report {
	localIDs, err := r.store.IDs(ctx)
	if err != nil {
		r.logger.Error("read local ids failed; skipping reconcile", zap.Error(err))
		return Report{Errors: []error{fmt.Errorf("read local ids: %w", err)}}
	}

	plan := Diff(remote, localIDs)
	report := Report{Plan: plan}
	r.logger.Info("reconcile plan",
		zap.Int("remote", len(remote)),
		zap.Int("local", len(localIDs)),
		zap.Int("create", len(plan.Create)),
		zap.Int("update", len(plan.Update)),
		zap.Int("remove", len(plan.Remove)),
	)

	if len(plan.Create) > 0 {
		n, err := r.store.BulkCreate(ctx, plan.Create)
		report.Created = n
		r.recordOp(&report, "create", len(plan.Create), err)
	}
	if len(plan.Update) > 0 {
		n, err := r.store.BulkUpdate(ctx, plan.Update)
		report.Updated = n
		r.recordOp(&report, "update", len(plan.Update), err)
	}
	if len(plan.Remove) > 0 {
		n, err := r.store.BulkRemove(ctx, plan.Remove)
		report.Removed = n
		r.recordOp(&report, "remove", len(plan.Remove), err)
	}
	return report
}

func (r *Resiliencer) recordOp(report *Report, op string, planned int, err error) {
	metrics.ObserveSyncOperation(op, err)
	if err != nil {
		r.logger.Error("bulk operation failed", zap.String("op", op), zap.Int("planned", planned), zap.Error(err))
		report.Errors = append(report.Errors, fmt.Errorf("bulk %s: %w", op, err))
	}
}

func (r *Resiliencer) archiveSnapshot(ctx context.Context, remote []pipeline.DomainRecord) {
	if r.archive == nil {
		return
	}
	data, err := json.Marshal(remote)
	if err != nil {
		r.logger.Warn("encode snapshot for archive failed", zap.Error(err))
		return
	}
	name := path.Join(r.cfg.ArchivePrefix, r.clock.Now().UTC().Format("20060102T150405.000000000Z")+".json")
	uri, err := r.archive.PutObject(ctx, name, "application/json", bytes.NewReader(data))
	if err != nil {
		r.logger.Warn("archive snapshot failed", zap.String("path", name), zap.Error(err))
		return
	}
	r.logger.Debug("snapshot archived", zap.String("uri", uri), zap.Int("records", len(remote)))
}
