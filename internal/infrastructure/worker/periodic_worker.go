package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qmsforge/riskflow/internal/application/port"
)

// Task is one unit of periodic work
type Task func(ctx context.Context) error

// Status is a snapshot of a periodic worker
type Status struct {
	Name      string    `json:"name"`
	Interval  string    `json:"interval"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// PeriodicWorker runs a task on a fixed interval until stopped
type PeriodicWorker struct {
	name     string
	interval time.Duration
	task     Task
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	status  Status
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewPeriodicWorker creates a worker that runs task every interval
func NewPeriodicWorker(name string, interval time.Duration, task Task, logger *zap.Logger) *PeriodicWorker {
	return &PeriodicWorker{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger.With(zap.String("worker", name)),
		now:      time.Now,
		status:   Status{Name: name, Interval: interval.String()},
	}
}

// NewIntegrityWorker re-verifies every checksum chain in the store
func NewIntegrityWorker(store port.AuditStore, interval time.Duration, logger *zap.Logger) *PeriodicWorker {
	return NewPeriodicWorker("integrity_verifier", interval, func(ctx context.Context) error {
		return store.VerifyAll(ctx)
	}, logger)
}

// NewBackupWorker takes a full backup of the audit trail
func NewBackupWorker(backups port.BackupManager, interval time.Duration, logger *zap.Logger) *PeriodicWorker {
	return NewPeriodicWorker("scheduled_backup", interval, func(ctx context.Context) error {
		stats, err := backups.Backup(ctx)
		if err != nil {
			return err
		}
		logger.Info("Scheduled backup created",
			zap.String("backup_id", stats.BackupID),
			zap.Int("files", stats.FilesBackedUp))
		return nil
	}, logger)
}

// Name returns the worker name
func (w *PeriodicWorker) Name() string {
	return w.name
}

// Start begins the polling loop
func (w *PeriodicWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("worker %s already running", w.name)
	}
	if w.interval <= 0 {
		return fmt.Errorf("worker %s: interval must be positive", w.name)
	}

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	go w.pollLoop(ctx, w.stopCh, w.doneCh)

	w.logger.Info("Periodic worker started", zap.Duration("interval", w.interval))
	return nil
}

// Stop signals the loop to exit and waits for an in-flight run to finish
func (w *PeriodicWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done
	w.logger.Info("Periodic worker stopped")
	return nil
}

// Status returns a copy of the worker's counters
func (w *PeriodicWorker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// RunOnce executes the task immediately and records the outcome
func (w *PeriodicWorker) RunOnce(ctx context.Context) error {
	err := w.task(ctx)

	w.mu.Lock()
	w.status.Runs++
	w.status.LastRun = w.now().UTC()
	if err != nil {
		w.status.Failures++
		w.status.LastError = err.Error()
	} else {
		w.status.LastError = ""
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("Periodic task failed", zap.Error(err))
	}
	return err
}

func (w *PeriodicWorker) pollLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			_ = w.RunOnce(ctx)
		}
	}
}
