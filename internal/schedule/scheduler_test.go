package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type blockingJob struct {
	mu      sync.Mutex
	runs    int
	release chan struct{}
}

func (b *blockingJob) Name() string { return "blocking" }

func (b *blockingJob) Run(ctx context.Context) error {
	b.mu.Lock()
	b.runs++
	b.mu.Unlock()
	if b.release != nil {
		<-b.release
	}
	return nil
}

func TestAddJob(t *testing.T) {
	s := NewCronScheduler()
	job := &blockingJob{}
	require.Error(t, s.AddJob(job, "not a spec"))
	require.NoError(t, s.AddJob(job, "@every 10m"))
	require.Error(t, s.AddJob(job, "*/5 * * * *"))

	s.Start(context.Background())
	defer s.Stop()
	next, ok := s.Next("blocking")
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(10*time.Minute), next, time.Minute)
	_, ok = s.Next("missing")
	require.False(t, ok)
}

func TestWrapSkipsOverlappingRuns(t *testing.T) {
	s := NewCronScheduler()
	job := &blockingJob{release: make(chan struct{})}
	e := &entry{job: job, spec: "@every 1m"}
	run := func() { s.run(e) }

	done := make(chan struct{})
	go func() {
		run()
		close(done)
	}()
	require.Eventually(t, func() bool {
		job.mu.Lock()
		defer job.mu.Unlock()
		return job.runs == 1
	}, time.Second, time.Millisecond)

	// a tick while the first run is in flight is dropped
	run2 := make(chan struct{})
	go func() {
		defer close(run2)
		run()
	}()
	<-run2
	close(job.release)
	<-done

	job.mu.Lock()
	defer job.mu.Unlock()
	require.Equal(t, 1, job.runs)
}

type reportingJob struct {
	err     error
	reports int
}

func (r *reportingJob) Name() string { return "reporting" }

func (r *reportingJob) Run(ctx context.Context) error { return r.err }

func (r *reportingJob) LastRun() []zap.Field {
	r.reports++
	return []zap.Field{zap.Int("indexed", 2)}
}

func TestRunRecordsResults(t *testing.T) {
	s := NewCronScheduler()
	job := &reportingJob{}
	e := &entry{job: job, spec: "@every 1m"}
	ok := testutil.ToFloat64(jobRuns.WithLabelValues("reporting", resultOK))
	failed := testutil.ToFloat64(jobRuns.WithLabelValues("reporting", resultFailed))
	skipped := testutil.ToFloat64(jobRuns.WithLabelValues("reporting", resultSkipped))

	s.run(e)
	job.err = errors.New("store offline")
	s.run(e)
	e.running.Store(true)
	s.run(e)

	require.Equal(t, ok+1, testutil.ToFloat64(jobRuns.WithLabelValues("reporting", resultOK)))
	require.Equal(t, failed+1, testutil.ToFloat64(jobRuns.WithLabelValues("reporting", resultFailed)))
	require.Equal(t, skipped+1, testutil.ToFloat64(jobRuns.WithLabelValues("reporting", resultSkipped)))
	// skipped ticks do not ask the job for its report
	require.Equal(t, 2, job.reports)
}
