package proc

import (
	"context"
	"testing"

	"github.com/splanck/viperdos/pkg/cap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViperSpawnTaskEnforcesTaskLimit(t *testing.T) {
	v := NewViper(1, "init", nil, nil)
	require.NoError(t, v.SetRlimit(LimitTasks, 1))

	_, err := v.SpawnTask("a")
	require.NoError(t, err)

	_, err = v.SpawnTask("b")
	assert.Error(t, err)
}

func TestNewViperRecordsParentChild(t *testing.T) {
	parent := NewViper(1, "init", nil, nil)
	child := NewViper(2, "child", []string{"--x"}, parent)

	assert.Equal(t, parent, child.Parent())
	assert.Contains(t, parent.Children(), child)
	assert.Equal(t, parent.Getpgid(), child.Getpgid())
	assert.Equal(t, parent.Getsid(), child.Getsid())
}

func TestViperExitWakesWait(t *testing.T) {
	parent := NewViper(1, "init", nil, nil)
	child := NewViper(2, "child", nil, parent)

	go func() {
		child.Exit(7)
	}()

	exited, err := parent.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, child, exited)
	assert.Equal(t, int32(7), exited.ExitCode())
	assert.Equal(t, ViperZombie, exited.State())
}

func TestViperSetsidRejectsExistingGroupLeader(t *testing.T) {
	v := NewViper(1, "init", nil, nil)
	require.NoError(t, v.Setsid())
	assert.Error(t, v.Setsid())
}

func TestViperCapBoundingSetOnlyNarrows(t *testing.T) {
	v := NewViper(1, "init", nil, nil)
	assert.Equal(t, cap.All, v.GetCapBoundingSet())

	v.DropCapBoundingSet(cap.Read | cap.Write)
	assert.Equal(t, cap.Read|cap.Write, v.GetCapBoundingSet())

	v.DropCapBoundingSet(cap.All)
	assert.Equal(t, cap.Read|cap.Write, v.GetCapBoundingSet(), "dropping can never widen the set back")
}

func TestViperRlimitCannotBeRaisedAfterStartup(t *testing.T) {
	v := NewViper(1, "init", nil, nil)
	v.SetState(ViperRunning)

	err := v.SetRlimit(LimitTasks, DefaultTaskLimit+1)
	assert.Error(t, err)

	err = v.SetRlimit(LimitTasks, 1)
	assert.NoError(t, err)
}

func TestViperWouldExceedRlimit(t *testing.T) {
	v := NewViper(1, "init", nil, nil)
	require.NoError(t, v.SetRlimit(LimitMemory, 100))
	assert.False(t, v.WouldExceedRlimit(LimitMemory, 50))
	v.ChargeRusage(LimitMemory, 80)
	assert.True(t, v.WouldExceedRlimit(LimitMemory, 50))
}

type fakeCapObject struct{ kind cap.Kind }

func (f *fakeCapObject) Kind() cap.Kind { return f.kind }

func TestViperForkClonesAddressSpaceAndCaps(t *testing.T) {
	parent := NewViper(1, "init", []string{"a"}, nil)
	require.NoError(t, parent.Addr.Write(0, []byte("hello")))
	h := parent.Caps.Insert(&fakeCapObject{kind: cap.KindBlob}, cap.KindBlob, cap.Read)
	require.NotEqual(t, cap.Invalid, h)
	parent.DropCapBoundingSet(cap.Write)

	child := parent.Fork(2)

	assert.Equal(t, parent, child.Parent())
	assert.Contains(t, parent.Children(), child)
	assert.Equal(t, parent.name, child.name)
	assert.Equal(t, parent.GetCapBoundingSet(), child.GetCapBoundingSet())

	data, err := child.Addr.Read(0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data), "child inherits parent's address space contents via CoW")

	e := child.Caps.Get(h)
	require.NotNil(t, e, "child's capability table must carry the parent's live capabilities")

	require.NoError(t, child.Addr.Write(0, []byte("world")))
	parentData, err := parent.Addr.Read(0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(parentData), "CoW write in the child must not leak back to the parent")
}
