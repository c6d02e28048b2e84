// Package scheduling runs the dapp side's housekeeping jobs on cron
// schedules: re-broadcasting provider requests and expiring requests that
// never got a response.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"walletbridge/internal/infra/config"
)

// Action names a housekeeping job.
type Action string

const (
	ActionRediscoverProviders Action = "rediscover_providers"
	ActionExpirePending       Action = "expire_pending"
)

// ActionFunc performs one run of an action.
type ActionFunc func(ctx context.Context) error

// taskTimeout bounds a single run of any action.
const taskTimeout = time.Minute

// Task binds an action to a schedule.
type Task struct {
	Name     string
	Schedule string // "*/5 * * * *", "@every 30s" or a duration such as "30s"
	Action   Action
	OneShot  bool
}

// FromConfig returns the tasks cfg enables. Expiry needs both a schedule
// and a positive pending TTL.
func FromConfig(cfg config.ClientConfig) []Task {
	var tasks []Task
	if cfg.ExpireSchedule != "" && cfg.PendingTTL > 0 {
		tasks = append(tasks, Task{Name: string(ActionExpirePending), Schedule: cfg.ExpireSchedule, Action: ActionExpirePending})
	}
	if cfg.RediscoverSchedule != "" {
		tasks = append(tasks, Task{Name: string(ActionRediscoverProviders), Schedule: cfg.RediscoverSchedule, Action: ActionRediscoverProviders})
	}
	return tasks
}

// Scheduler runs registered actions on their tasks' schedules. A run that
// is still going when its next tick arrives makes that tick a no-op.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	actions map[Action]ActionFunc
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			// Recover sits inside the skip guard so a panicking run still
			// releases it.
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		),
		logger:  logger,
		actions: make(map[Action]ActionFunc),
		entries: make(map[string]cron.EntryID),
	}
}

// RegisterAction sets the function run for action, replacing any earlier one.
func (s *Scheduler) RegisterAction(action Action, fn ActionFunc) {
	s.mu.Lock()
	s.actions[action] = fn
	s.mu.Unlock()
}

// AddTask schedules task. Its action must be registered and its name unused.
func (s *Scheduler) AddTask(task Task) error {
	if task.Name == "" {
		return errors.New("scheduler: task name is empty")
	}
	sched, err := ParseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: task %q: %w", task.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fn, ok := s.actions[task.Action]
	if !ok {
		return fmt.Errorf("scheduler: task %q: no action %q registered", task.Name, task.Action)
	}
	if _, dup := s.entries[task.Name]; dup {
		return fmt.Errorf("scheduler: task %q already scheduled", task.Name)
	}
	s.entries[task.Name] = s.cron.Schedule(sched, &job{s: s, task: task, fn: fn})

	s.logger.Info("task scheduled", "task", task.Name, "schedule", task.Schedule, "action", string(task.Action))
	return nil
}

// RemoveTask unschedules the named task and reports whether it existed.
func (s *Scheduler) RemoveTask(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
	return ok
}

// NextRun returns when the named task fires next, or nil if it is unknown
// or the scheduler is not running.
func (s *Scheduler) NextRun(name string) *time.Time {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	next := s.cron.Entry(id).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

// Start runs the scheduler until Stop or until ctx ends. Starting a
// running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for in-flight runs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	// Runs may call RemoveTask, so s.mu is released first.
	<-s.cron.Stop().Done()
	return nil
}

// runContext is nil once the scheduler's context has ended.
func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.ctx.Err() != nil {
		return nil
	}
	return s.ctx
}

// job adapts a Task to cron.Job.
type job struct {
	s    *Scheduler
	task Task
	fn   ActionFunc
}

func (j *job) Run() {
	parent := j.s.runContext()
	if parent == nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, taskTimeout)
	defer cancel()

	start := time.Now()
	err := j.fn(ctx)
	log := j.s.logger.With("task", j.task.Name, "duration", time.Since(start))
	if err != nil {
		log.Warn("scheduled task failed", "error", err)
	} else {
		log.Debug("scheduled task done")
	}

	if j.task.OneShot {
		j.s.RemoveTask(j.task.Name)
	}
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts a five-field cron expression, a descriptor such as
// "@hourly" or "@every 30s", or a bare duration. Bare durations may be
// shorter than a second.
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("empty schedule")
	}
	if d, err := time.ParseDuration(spec); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("schedule %q: interval must be positive", spec)
		}
		return interval(d), nil
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule %q is neither a cron expression nor a duration: %w", spec, err)
	}
	return sched, nil
}

// interval fires at a fixed period after each run.
type interval time.Duration

func (i interval) Next(t time.Time) time.Time { return t.Add(time.Duration(i)) }

// cronLogger routes cron's own logging into slog. cron's info lines are
// per-tick noise, so they go out at debug.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
