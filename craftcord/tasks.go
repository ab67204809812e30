package craftcord

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// Duty names a kind of long-lived background task
type Duty string

const (
	// DutySpawn is a guild's spawn loop
	DutySpawn Duty = "spawn"

	// DutyScheduler runs the cron jobs. It isn't tied to a guild.
	DutyScheduler Duty = "scheduler"
)

var (
	taskMinBackoff = time.Second
	taskMaxBackoff = time.Minute
)

var errTaskPanicked = errors.New("task panicked")

// TaskKey identifies a task. GuildID is empty for global duties.
type TaskKey struct {
	GuildID string
	Duty    Duty
}

func (k TaskKey) String() string {
	if k.GuildID == "" {
		return string(k.Duty)
	}
	return fmt.Sprintf("%s/%s", k.Duty, k.GuildID)
}

// TaskFunc is the body of a supervised task. It should run until ctx is
// done. Returning nil ends the task; returning an error (or panicking)
// restarts it after a backoff.
type TaskFunc func(ctx context.Context) error

type task struct {
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
}

// TaskRegistry runs at most one task per (guild, duty), restarting tasks
// that fail
type TaskRegistry struct {
	mu         sync.Mutex
	tasks      map[TaskKey]*task
	logger     *slog.Logger
	metrics    *gameMetrics
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewTaskRegistry(logger *slog.Logger, metrics *gameMetrics) *TaskRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskRegistry{
		tasks:      map[TaskKey]*task{},
		logger:     logger.With(loggerNameKey, "tasks"),
		metrics:    metrics,
		minBackoff: taskMinBackoff,
		maxBackoff: taskMaxBackoff,
	}
}

// Start runs fn under key, unless a task with that key is already
// running. The task stops when ctx is done, or on Stop.
func (r *TaskRegistry) Start(ctx context.Context, key TaskKey, fn TaskFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[key]; ok {
		return false
	}
	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel, done: make(chan struct{}), startedAt: time.Now()}
	r.tasks[key] = t
	if r.metrics != nil {
		r.metrics.TasksRunning.WithLabelValues(string(key.Duty)).Inc()
	}
	r.logger.InfoContext(ctx, "starting task", "task", key.String())
	go r.supervise(taskCtx, key, t, fn)
	return true
}

func (r *TaskRegistry) supervise(ctx context.Context, key TaskKey, t *task, fn TaskFunc) {
	logger := r.logger.With("task", key.String())
	defer func() {
		r.mu.Lock()
		if r.tasks[key] == t {
			delete(r.tasks, key)
		}
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.TasksRunning.WithLabelValues(string(key.Duty)).Dec()
		}
		t.cancel()
		close(t.done)
	}()

	backoff := r.minBackoff
	for {
		err := runProtected(ctx, fn)
		if ctx.Err() != nil {
			logger.Debug("task stopped")
			return
		}
		if err == nil {
			logger.Info("task finished")
			return
		}
		logger.Error("task failed, restarting", tint.Err(err), "backoff", backoff)
		if r.metrics != nil {
			r.metrics.TaskRestarts.WithLabelValues(string(key.Duty)).Inc()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

// runProtected runs fn, converting a panic into an error
func runProtected(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if rc := recover(); rc != nil {
			err = fmt.Errorf("%w: %v\n%s", errTaskPanicked, rc, debug.Stack())
		}
	}()
	return fn(ctx)
}

// Stop cancels the task and waits for it to exit. Returns false if no
// task with key was running.
func (r *TaskRegistry) Stop(key TaskKey) bool {
	r.mu.Lock()
	t, ok := r.tasks[key]
	if ok {
		delete(r.tasks, key)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.logger.Info("stopping task", "task", key.String())
	t.cancel()
	<-t.done
	return true
}

// Restart stops any running task with key, then starts fn
func (r *TaskRegistry) Restart(ctx context.Context, key TaskKey, fn TaskFunc) {
	r.Stop(key)
	r.Start(ctx, key, fn)
}

func (r *TaskRegistry) Running(key TaskKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[key]
	return ok
}

// Keys lists running tasks, sorted by duty then guild
func (r *TaskRegistry) Keys() []TaskKey {
	r.mu.Lock()
	keys := make([]TaskKey, 0, len(r.tasks))
	for k := range r.tasks {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Slice(
		keys, func(i, j int) bool {
			if keys[i].Duty != keys[j].Duty {
				return keys[i].Duty < keys[j].Duty
			}
			return keys[i].GuildID < keys[j].GuildID
		},
	)
	return keys
}

// StopAll cancels every task, waiting for each to exit until ctx is done
func (r *TaskRegistry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	tasks := r.tasks
	r.tasks = map[TaskKey]*task{}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for key, t := range tasks {
		key, t := key, t
		g.Go(
			func() error {
				t.cancel()
				select {
				case <-t.done:
					return nil
				case <-gctx.Done():
					return fmt.Errorf("task %s did not stop: %w", key, gctx.Err())
				}
			},
		)
	}
	return g.Wait()
}
