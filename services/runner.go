package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrJobRunning: es läuft bereits ein Job; der Start wird abgelehnt.
var ErrJobRunning = errors.New("a job is already running")

// FailedProgress ist der Sentinel-Wert für einen fehlgeschlagenen Job.
const FailedProgress = -1

// JobStatus ist der Poll-Payload eines Laufs: Progress 0..100 (−1 bei Fehler),
// letzte Message und die append-only Logzeilen.
type JobStatus struct {
	Progress int      `json:"progress"`
	Message  string   `json:"message"`
	Logs     []string `json:"logs"`
}

// Runner führt genau einen benannten Hintergrund-Task zur Zeit aus.
//
// Die Exklusivität hängt an einem atomaren idle→running-Übergang, nicht an
// einer Inspektion laufender Goroutinen: zwei nahezu gleichzeitige Starts
// können so nie beide durchkommen. Der Status-Record wird beim nächsten Start
// überschrieben, es gibt keine Historie und keinen Abbruch.
type Runner struct {
	log *zap.Logger

	running atomic.Bool

	mu     sync.Mutex
	status JobStatus
}

// NewRunner erstellt einen Runner im Idle-Zustand.
func NewRunner(log *zap.Logger) *Runner {
	return &Runner{
		log:    log,
		status: JobStatus{Progress: 0, Message: "Not started", Logs: []string{}},
	}
}

// Running meldet, ob gerade ein Task läuft.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Status liefert einen konsistenten Schnappschuss des Status-Records.
func (r *Runner) Status() JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.status
	out.Logs = append([]string(nil), r.status.Logs...)
	return out
}

// Start setzt den Status-Record zurück und startet den Task auf einer eigenen
// Goroutine (fire-and-forget). Läuft bereits ein Job, kommt ErrJobRunning
// zurück und der laufende Status bleibt unberührt. Task-Fehler und Panics
// landen vollständig im Status-Record; Start selbst schlägt deswegen nie fehl.
func (r *Runner) Start(name string, task func(ctx context.Context, job *Job) error) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrJobRunning
	}

	r.mu.Lock()
	r.status = JobStatus{Progress: 0, Message: name + " started...", Logs: []string{}}
	r.mu.Unlock()

	go r.run(name, task)
	return nil
}

func (r *Runner) run(name string, task func(ctx context.Context, job *Job) error) {
	defer r.running.Store(false)

	job := &Job{runner: r}

	defer func() {
		if rec := recover(); rec != nil {
			r.appendLog(fmt.Sprintf("panic: %v\n%s", rec, debug.Stack()))
			r.setProgress(FailedProgress)
			r.setMessage(fmt.Sprintf("An error occurred: %v", rec))
			r.log.Error("Background job panicked", zap.String("job", name), zap.Any("panic", rec))
		}
	}()

	err := task(context.Background(), job)
	if err != nil {
		r.appendLog(err.Error())
		r.setProgress(FailedProgress)
		r.setMessage(fmt.Sprintf("An error occurred: %v", err))
		r.log.Error("Background job failed", zap.String("job", name), zap.Error(err))
		return
	}

	r.mu.Lock()
	if r.status.Progress != FailedProgress {
		r.status.Message = "Completed successfully!"
	}
	r.mu.Unlock()
	r.log.Info("Background job completed", zap.String("job", name))
}

func (r *Runner) setProgress(p int) {
	r.mu.Lock()
	r.status.Progress = p
	r.mu.Unlock()
}

func (r *Runner) setMessage(m string) {
	r.mu.Lock()
	r.status.Message = m
	r.mu.Unlock()
}

func (r *Runner) appendLog(line string) {
	r.mu.Lock()
	r.status.Logs = append(r.status.Logs, line)
	r.mu.Unlock()
}

// Job ist das Handle, über das der laufende Task Fortschritt und Logzeilen
// in den Status-Record meldet.
type Job struct {
	runner *Runner
}

// SetProgress meldet den Fortschritt (0..100; FailedProgress bei Fehler).
func (j *Job) SetProgress(p int) {
	j.runner.setProgress(p)
}

// Logf hängt eine Zeile an den Status-Record an und spiegelt sie auf Stdout
// (transparentes Tee, keine Umleitung).
func (j *Job) Logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	j.runner.appendLog(line)
	fmt.Fprintln(os.Stdout, line)
}

// Writer liefert einen io.Writer mit derselben Tee-Semantik wie Logf, für
// Task-Code, der in einen Stream schreibt.
func (j *Job) Writer() *JobWriter {
	return &JobWriter{job: j}
}

// JobWriter zerlegt geschriebene Bytes in Zeilen; nicht-leere Zeilen landen im
// Log, alles geht unverändert auf Stdout durch.
type JobWriter struct {
	job *Job
	buf strings.Builder
}

func (w *JobWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		s := w.buf.String()
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(s[:i])
		if line != "" {
			w.job.runner.appendLog(line)
		}
		w.buf.Reset()
		w.buf.WriteString(s[i+1:])
	}
	return os.Stdout.Write(p)
}
