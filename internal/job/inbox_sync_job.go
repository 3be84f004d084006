package job

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

type stagedSyncer interface {
	SyncStaged(ctx context.Context) (int, error)
}

// InboxSyncJob indexes documents dropped into the staging store out of band,
// for example copied into the local directory or uploaded to the bucket.
type InboxSyncJob struct {
	syncer  stagedSyncer
	indexed atomic.Int64
	failed  atomic.Int64
}

func NewInboxSyncJob(syncer stagedSyncer) *InboxSyncJob {
	return &InboxSyncJob{syncer: syncer}
}

func (j *InboxSyncJob) Name() string {
	return "inbox_sync"
}

func (j *InboxSyncJob) Run(ctx context.Context) error {
	if j.syncer == nil {
		return nil
	}
	added, err := j.syncer.SyncStaged(ctx)
	j.indexed.Store(int64(added))
	j.failed.Store(int64(countFailures(err)))
	return err
}

// LastRun reports how many staged documents the previous run indexed and how
// many it gave up on.
func (j *InboxSyncJob) LastRun() []zap.Field {
	return []zap.Field{
		zap.Int64("indexed", j.indexed.Load()),
		zap.Int64("failed", j.failed.Load()),
	}
}

// countFailures counts the documents behind a joined sync error.
func countFailures(err error) int {
	if err == nil {
		return 0
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}
