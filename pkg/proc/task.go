// Package proc implements ViperDOS's process ("Viper") and task model:
// address spaces, capability/fd tables, resource limits, and the
// cooperative scheduler that runs tasks (spec §3.3, §4.6).
//
// Grounded on original_source/viperdos/kernel/viper/viper.hpp. There is no
// hosted equivalent of a bare-metal trap-driven scheduler, so a task here
// is a goroutine with a small state-tracking header; Yield maps to
// runtime.Gosched() and blocking happens inside the primitives a task
// calls (pkg/ipc's Channel/PollSet), not inside Task itself.
package proc

import (
	"runtime"
	"sync"
)

// State is a task's scheduling state (spec §4.6).
type State uint32

const (
	TaskReady State = iota
	TaskRunning
	TaskBlocked
	TaskZombie
)

func (s State) String() string {
	switch s {
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskBlocked:
		return "blocked"
	case TaskZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// Task is one schedulable unit of execution within a Viper.
type Task struct {
	id    uint64
	name  string
	viper *Viper

	mu       sync.Mutex
	state    State
	exitCode int32
}

func newTask(id uint64, name string, v *Viper) *Task {
	return &Task{id: id, name: name, viper: v, state: TaskReady}
}

// ID returns the task's kernel-assigned id.
func (t *Task) ID() uint64 { return t.id }

// Name returns the task's diagnostic name.
func (t *Task) Name() string { return t.name }

// Viper returns the owning process.
func (t *Task) Viper() *Viper { return t.viper }

// State returns the task's current scheduling state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState updates the task's scheduling state, used by the scheduler and
// by blocking primitives to report Blocked/Running transitions for
// TASK_INFO diagnostics.
func (t *Task) SetState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// ExitCode returns the task's exit code; meaningful once State is
// TaskZombie.
func (t *Task) ExitCode() int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

func (t *Task) setExitCode(code int32) {
	t.mu.Lock()
	t.exitCode = code
	t.mu.Unlock()
}

// Yield cooperatively gives up the processor, the hosted equivalent of
// the original's task_yield() trap into the scheduler (spec §4.6).
func (t *Task) Yield() {
	runtime.Gosched()
}
