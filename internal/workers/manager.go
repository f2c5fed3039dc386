package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	defaultWorkerTimeout = 10 * time.Minute

	// watchdogSchedule is how often the sweep looks for stuck workers.
	watchdogSchedule = "@every 30s"
)

// WorkerInfo is a snapshot of one tracked worker.
type WorkerInfo struct {
	TaskID      string
	Description string
	Started     time.Time
}

type worker struct {
	info   WorkerInfo
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager tracks background worker goroutines: what is running, since
// when, and how to stop it. Replaces fire-and-forget spawning so shutdown
// and timeouts have something to act on.
type Manager struct {
	mu      sync.Mutex
	workers map[string]*worker
	timeout time.Duration
	logger  *slog.Logger
}

// NewManager creates a manager. timeout <= 0 falls back to 10 minutes.
func NewManager(timeout time.Duration, logger *slog.Logger) *Manager {
	if timeout <= 0 {
		timeout = defaultWorkerTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		workers: make(map[string]*worker),
		timeout: timeout,
		logger:  logger.With("component", "workers"),
	}
}

// Run spawns fn as a tracked worker goroutine. Its context is cancelled
// by Cancel, CancelAll, or the timeout sweep. A duplicate task id replaces
// the tracking entry; the earlier goroutine keeps its own context.
func (m *Manager) Run(taskID, description string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		info:   WorkerInfo{TaskID: taskID, Description: description, Started: time.Now()},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	if _, exists := m.workers[taskID]; exists {
		m.logger.Warn("worker already registered, replacing", "task", taskID)
	}
	m.workers[taskID] = w
	m.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			close(w.done)
			m.finish(w)
		}()
		fn(ctx)
	}()
}

func (m *Manager) finish(w *worker) {
	m.mu.Lock()
	if m.workers[w.info.TaskID] == w {
		delete(m.workers, w.info.TaskID)
	}
	m.mu.Unlock()
	m.logger.Info("worker finished", "task", w.info.TaskID, "elapsed", time.Since(w.info.Started).Round(time.Second))
}

// Active returns snapshots of all running workers.
func (m *Manager) Active() []WorkerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WorkerInfo, 0, len(m.workers))
	for _, w := range m.workers {
		select {
		case <-w.done:
		default:
			out = append(out, w.info)
		}
	}
	return out
}

// Cancel stops a worker by task id. Returns false when it is not running.
func (m *Manager) Cancel(taskID string) bool {
	m.mu.Lock()
	w, ok := m.workers[taskID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
	}
	w.cancel()
	m.logger.Info("cancelled worker", "task", taskID)
	return true
}

// CancelAll stops every worker and waits for them to finish, bounded by
// ctx. Used during graceful shutdown so no task goroutine is orphaned.
func (m *Manager) CancelAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		all = append(all, w)
	}
	m.mu.Unlock()
	if len(all) == 0 {
		return
	}

	m.logger.Info("cancelling active workers", "count", len(all))
	for _, w := range all {
		w.cancel()
	}
	for _, w := range all {
		select {
		case <-w.done:
		case <-ctx.Done():
			m.logger.Warn("gave up waiting for workers", "error", ctx.Err())
			return
		}
	}
	m.logger.Info("all workers stopped")
}

// Sweep cancels workers that have exceeded the timeout. The maintenance
// scheduler calls this every 30 seconds.
func (m *Manager) Sweep() {
	now := time.Now()
	for _, info := range m.Active() {
		elapsed := now.Sub(info.Started)
		if elapsed > m.timeout {
			m.logger.Warn("worker timed out, cancelling",
				"task", info.TaskID,
				"elapsed", elapsed.Round(time.Second),
				"limit", m.timeout)
			m.Cancel(info.TaskID)
		}
	}
}

// Schedule registers the timeout sweep on the maintenance scheduler.
func (m *Manager) Schedule(c *cron.Cron) error {
	_, err := c.AddFunc(watchdogSchedule, m.Sweep)
	return err
}
