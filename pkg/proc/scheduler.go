package proc

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Scheduler runs Viper tasks as goroutines. ViperDOS's reference design
// assumes a single scheduler CPU (spec §4.6's scheduler is non-SMP); a
// golang.org/x/sync/semaphore.Weighted(1) reproduces that assumption
// here, admitting only one task's kernel-side work at a time while it
// holds the "CPU" token. A task that blocks inside pkg/ipc (Channel.Recv,
// PollSet.Wait, SleepMs) does so without holding this token, exactly as a
// real blocked task gives up its quantum.
type Scheduler struct {
	cpu *semaphore.Weighted
}

// NewScheduler creates a scheduler modeling a single CPU.
func NewScheduler() *Scheduler {
	return &Scheduler{cpu: semaphore.NewWeighted(1)}
}

// Run executes fn on t's behalf on the scheduler's single CPU, blocking
// until the CPU token is available and releasing it when fn returns.
// Callers that are about to block in pkg/ipc should do so outside Run so
// the CPU token is free for other tasks meanwhile.
func (s *Scheduler) Run(ctx context.Context, t *Task, fn func(ctx context.Context) error) error {
	if err := s.cpu.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.cpu.Release(1)

	t.SetState(TaskRunning)
	err := fn(ctx)
	if t.State() == TaskRunning {
		t.SetState(TaskReady)
	}
	return err
}

// Spawn starts fn as a new goroutine-backed task under v, returning
// immediately with the Task handle while fn runs asynchronously. fn is
// responsible for calling Run (or blocking in pkg/ipc directly) for any
// work that should respect the single-CPU token.
func (s *Scheduler) Spawn(v *Viper, name string, fn func(ctx context.Context, t *Task)) (*Task, error) {
	t, err := v.SpawnTask(name)
	if err != nil {
		return nil, err
	}
	go func() {
		fn(context.Background(), t)
		t.SetState(TaskZombie)
	}()
	return t, nil
}
