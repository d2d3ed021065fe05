package proc

import (
	"context"
	"sync"

	"github.com/splanck/viperdos/pkg/cap"
	"github.com/splanck/viperdos/pkg/common"
)

// ViperState is a process's lifecycle state (spec §4.6).
type ViperState uint32

const (
	ViperCreating ViperState = iota
	ViperRunning
	ViperExiting
	ViperZombie
)

// ResourceLimit names one of the rlimit-style ceilings a Viper enforces
// on itself (spec §4.6 ResourceLimit).
type ResourceLimit uint32

const (
	LimitMemory ResourceLimit = iota
	LimitHandles
	LimitTasks
	limitCount
)

// Viper is a ViperDOS process: an address space, a capability table, a
// set of tasks, and the bookkeeping (rlimits, bounding set, process
// group/session) spec §4.6 attaches to it.
//
// Grounded on original_source/viperdos/kernel/viper/viper.hpp.
type Viper struct {
	id   uint64
	name string
	args []string

	Caps  *cap.Table
	Addr  *AddressSpace

	mu       sync.Mutex
	state    ViperState
	exitCode int32

	tasks    map[uint64]*Task
	nextTask uint64

	parent      *Viper
	children    []*Viper
	childWaiter chan *Viper

	pgid           uint64
	sid            uint64
	isSessionLead  bool

	limits map[ResourceLimit]uint64
	usage  map[ResourceLimit]uint64

	// boundingSet is the ceiling on rights applied to capabilities made
	// by CAP_DERIVE and to handles received over a channel; it only ever
	// narrows (spec §4.6 drop_cap_bounding_set()). Other insertions into
	// Caps are not masked against it.
	boundingSet cap.Rights
}

// NewViper creates a process rooted at parent (nil for the first/init
// process), with a fresh capability table and address space (spec §4.6
// create()).
func NewViper(id uint64, name string, args []string, parent *Viper) *Viper {
	v := &Viper{
		id:          id,
		name:        name,
		args:        args,
		Caps:        cap.NewTable(DefaultHandleLimit),
		Addr:        NewAddressSpace(DefaultMemoryLimit),
		state:       ViperCreating,
		tasks:       make(map[uint64]*Task),
		parent:      parent,
		childWaiter: make(chan *Viper, DefaultTaskLimit),
		boundingSet: cap.All,
		limits: map[ResourceLimit]uint64{
			LimitMemory:  DefaultMemoryLimit,
			LimitHandles: DefaultHandleLimit,
			LimitTasks:   DefaultTaskLimit,
		},
		usage: make(map[ResourceLimit]uint64),
	}
	v.pgid = id
	v.sid = id
	if parent != nil {
		v.pgid = parent.pgid
		v.sid = parent.sid
		parent.mu.Lock()
		parent.children = append(parent.children, v)
		parent.mu.Unlock()
	}
	return v
}

// Fork builds a child Viper with a CoW-shared copy of this process's
// address space and a duplicated capability table, the way NewViper
// builds the first process except that both tables of bookkeeping start
// from this Viper's state instead of from scratch (spec §4.6 fork()).
// childID must already be allocated by the caller (the kernel's process
// table, not the Viper package, owns id assignment).
func (v *Viper) Fork(childID uint64) *Viper {
	v.mu.Lock()
	name := v.name
	args := append([]string(nil), v.args...)
	limits := make(map[ResourceLimit]uint64, len(v.limits))
	for r, lim := range v.limits {
		limits[r] = lim
	}
	boundingSet := v.boundingSet
	v.mu.Unlock()

	child := &Viper{
		id:          childID,
		name:        name,
		args:        args,
		Caps:        v.Caps.Clone(),
		Addr:        v.Addr.Fork(),
		state:       ViperCreating,
		tasks:       make(map[uint64]*Task),
		parent:      v,
		childWaiter: make(chan *Viper, DefaultTaskLimit),
		boundingSet: boundingSet,
		limits:      limits,
		usage:       make(map[ResourceLimit]uint64),
	}
	child.pgid = v.pgid
	child.sid = v.sid

	v.mu.Lock()
	v.children = append(v.children, child)
	v.mu.Unlock()

	return child
}

// ID returns the Viper's kernel-assigned id.
func (v *Viper) ID() uint64 { return v.id }

// Name returns the Viper's name.
func (v *Viper) Name() string { return v.name }

// Args returns the Viper's argv.
func (v *Viper) Args() []string { return v.args }

// State returns the Viper's current lifecycle state.
func (v *Viper) State() ViperState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// SetState transitions the Viper's lifecycle state.
func (v *Viper) SetState(s ViperState) {
	v.mu.Lock()
	v.state = s
	v.mu.Unlock()
}

// SpawnTask creates a new task owned by this Viper, enforcing the task
// count rlimit (spec §4.6 would_exceed_rlimit(), Tasks case).
func (v *Viper) SpawnTask(name string) (*Task, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if uint64(len(v.tasks)) >= v.limits[LimitTasks] {
		return nil, common.ErrOutOfMemory
	}
	v.nextTask++
	t := newTask(v.nextTask, name, v)
	v.tasks[t.id] = t
	return t, nil
}

// Tasks returns a snapshot of the Viper's current task list.
func (v *Viper) Tasks() []*Task {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*Task, 0, len(v.tasks))
	for _, t := range v.tasks {
		out = append(out, t)
	}
	return out
}

// ReapTask removes a zombie task from the task list (spec §4.6 reap()).
func (v *Viper) ReapTask(id uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.tasks, id)
}

// Exit transitions the Viper to Zombie with the given code and notifies
// anyone blocked in Wait (spec §4.6 exit()).
func (v *Viper) Exit(code int32) {
	v.mu.Lock()
	v.state = ViperZombie
	v.exitCode = code
	v.mu.Unlock()

	if v.parent != nil {
		select {
		case v.parent.childWaiter <- v:
		default:
		}
	}
}

// ExitCode returns the Viper's exit code, valid once State() is
// ViperZombie.
func (v *Viper) ExitCode() int32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.exitCode
}

// Wait blocks until any direct child exits, returning that child (spec
// §4.6 wait()). Wait does not remove the child from Children().
func (v *Viper) Wait(ctx context.Context) (*Viper, error) {
	select {
	case child := <-v.childWaiter:
		return child, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Parent returns the parent Viper, or nil for the root process.
func (v *Viper) Parent() *Viper { return v.parent }

// Children returns a snapshot of the Viper's direct children.
func (v *Viper) Children() []*Viper {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*Viper, len(v.children))
	copy(out, v.children)
	return out
}

// Getpgid returns the Viper's process group id (spec §4.6 getpgid()).
func (v *Viper) Getpgid() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pgid
}

// Setpgid sets the Viper's process group id (spec §4.6 setpgid()).
func (v *Viper) Setpgid(pgid uint64) {
	v.mu.Lock()
	v.pgid = pgid
	v.mu.Unlock()
}

// Getsid returns the Viper's session id (spec §4.6 getsid()).
func (v *Viper) Getsid() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sid
}

// Setsid makes the Viper the leader of a brand new session and of its own
// process group (spec §4.6 setsid()). It fails with ErrPermission only if
// the Viper already leads both its session and its group, as after an
// earlier Setsid; a process that only leads its group may call it.
func (v *Viper) Setsid() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pgid == v.id && v.isSessionLead {
		return common.ErrPermission
	}
	v.sid = v.id
	v.pgid = v.id
	v.isSessionLead = true
	return nil
}

// GetRlimit returns the current ceiling for the given resource (spec §4.6
// get_rlimit()).
func (v *Viper) GetRlimit(r ResourceLimit) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.limits[r]
}

// SetRlimit updates the ceiling for the given resource. A limit may only
// be lowered once the Viper is past Creating, mirroring the original's
// "rlimits only tighten after startup" rule.
func (v *Viper) SetRlimit(r ResourceLimit, value uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != ViperCreating && value > v.limits[r] {
		return common.ErrPermission
	}
	v.limits[r] = value
	return nil
}

// GetRusage returns current usage for the given resource (spec §4.6
// get_rusage()).
func (v *Viper) GetRusage(r ResourceLimit) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.usage[r]
}

// WouldExceedRlimit reports whether adding delta to the current usage of
// r would cross its configured limit, without applying the change (spec
// §4.6 would_exceed_rlimit()).
func (v *Viper) WouldExceedRlimit(r ResourceLimit, delta uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.usage[r]+delta > v.limits[r]
}

// ChargeRusage adds delta to the tracked usage of r.
func (v *Viper) ChargeRusage(r ResourceLimit, delta uint64) {
	v.mu.Lock()
	v.usage[r] += delta
	v.mu.Unlock()
}

// GetCapBoundingSet returns the Viper's current rights ceiling (spec §4.6
// get_cap_bounding_set()).
func (v *Viper) GetCapBoundingSet() cap.Rights {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.boundingSet
}

// DropCapBoundingSet narrows the bounding set to its intersection with
// rights; the set can only shrink, never grow (spec §4.6
// drop_cap_bounding_set()).
func (v *Viper) DropCapBoundingSet(rights cap.Rights) {
	v.mu.Lock()
	v.boundingSet = v.boundingSet.Intersect(rights)
	v.mu.Unlock()
}
