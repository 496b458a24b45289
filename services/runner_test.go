package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunnerRunsTaskToCompletion(t *testing.T) {
	r := NewRunner(zap.NewNop())

	require.NoError(t, r.Start("Collection", func(ctx context.Context, job *Job) error {
		job.Logf("working on %d items", 3)
		job.SetProgress(100)
		return nil
	}))

	assert.Eventually(t, func() bool { return !r.Running() }, time.Second, 5*time.Millisecond)

	status := r.Status()
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, "Completed successfully!", status.Message)
	require.Len(t, status.Logs, 1)
	assert.Equal(t, "working on 3 items", status.Logs[0])
}

func TestRunnerRejectsConcurrentStart(t *testing.T) {
	r := NewRunner(zap.NewNop())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, r.Start("Collection", func(ctx context.Context, job *Job) error {
		job.SetProgress(40)
		close(started)
		<-release
		return nil
	}))
	<-started

	err := r.Start("Collection", func(ctx context.Context, job *Job) error { return nil })
	require.ErrorIs(t, err, ErrJobRunning)

	// Der abgelehnte Start darf den laufenden Status nicht zurücksetzen.
	assert.Equal(t, 40, r.Status().Progress)

	close(release)
	assert.Eventually(t, func() bool { return !r.Running() }, time.Second, 5*time.Millisecond)

	// Nach dem Lauf ist ein neuer Start wieder möglich.
	require.NoError(t, r.Start("Collection", func(ctx context.Context, job *Job) error { return nil }))
	assert.Eventually(t, func() bool { return !r.Running() }, time.Second, 5*time.Millisecond)
}

func TestRunnerRecordsTaskError(t *testing.T) {
	r := NewRunner(zap.NewNop())

	require.NoError(t, r.Start("Collection", func(ctx context.Context, job *Job) error {
		job.SetProgress(30)
		return errors.New("provider unreachable")
	}))
	assert.Eventually(t, func() bool { return !r.Running() }, time.Second, 5*time.Millisecond)

	status := r.Status()
	assert.Equal(t, FailedProgress, status.Progress)
	assert.Contains(t, status.Message, "provider unreachable")
	require.NotEmpty(t, status.Logs)
	assert.Contains(t, status.Logs[len(status.Logs)-1], "provider unreachable")
}

func TestRunnerRecoversFromPanic(t *testing.T) {
	r := NewRunner(zap.NewNop())

	require.NoError(t, r.Start("Collection", func(ctx context.Context, job *Job) error {
		panic("boom")
	}))
	assert.Eventually(t, func() bool { return !r.Running() }, time.Second, 5*time.Millisecond)

	status := r.Status()
	assert.Equal(t, FailedProgress, status.Progress)
	assert.Contains(t, status.Message, "boom")
	require.NotEmpty(t, status.Logs)
	assert.Contains(t, status.Logs[0], "panic: boom")
}

func TestRunnerStartResetsStatus(t *testing.T) {
	r := NewRunner(zap.NewNop())
	assert.Equal(t, "Not started", r.Status().Message)

	require.NoError(t, r.Start("Collection", func(ctx context.Context, job *Job) error {
		return errors.New("first run fails")
	}))
	assert.Eventually(t, func() bool { return !r.Running() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, FailedProgress, r.Status().Progress)

	release := make(chan struct{})
	require.NoError(t, r.Start("Collection", func(ctx context.Context, job *Job) error {
		<-release
		return nil
	}))
	status := r.Status()
	assert.Equal(t, 0, status.Progress)
	assert.Equal(t, "Collection started...", status.Message)
	assert.Empty(t, status.Logs)
	close(release)
	assert.Eventually(t, func() bool { return !r.Running() }, time.Second, 5*time.Millisecond)
}

func TestStatusReturnsIsolatedSnapshot(t *testing.T) {
	r := NewRunner(zap.NewNop())
	r.appendLog("one")

	status := r.Status()
	status.Logs[0] = "mutated"
	status.Logs = append(status.Logs, "extra")

	assert.Equal(t, []string{"one"}, r.Status().Logs)
}

func TestJobWriterSplitsLines(t *testing.T) {
	r := NewRunner(zap.NewNop())
	job := &Job{runner: r}

	w := job.Writer()
	_, err := w.Write([]byte("first li"))
	require.NoError(t, err)
	_, err = w.Write([]byte("ne\nsecond line\n\npartial"))
	require.NoError(t, err)

	assert.Equal(t, []string{"first line", "second line"}, r.Status().Logs)
}
