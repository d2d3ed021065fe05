package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressSpaceReadWriteRoundTrip(t *testing.T) {
	a := NewAddressSpace(4096)
	require.NoError(t, a.Write(10, []byte("hello")))

	data, err := a.Read(10, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestAddressSpaceRejectsOutOfBoundsRange(t *testing.T) {
	a := NewAddressSpace(16)
	err := a.Write(10, []byte("too long for remaining space"))
	assert.Error(t, err)

	_, err = a.Read(-1, 4)
	assert.Error(t, err)
}

func TestAddressSpaceReadCString(t *testing.T) {
	a := NewAddressSpace(64)
	require.NoError(t, a.Write(0, []byte("hello\x00garbage")))

	s, err := a.ReadCString(0, 32)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestAddressSpaceReadCStringMissingTerminator(t *testing.T) {
	a := NewAddressSpace(16)
	require.NoError(t, a.Write(0, []byte("no terminator!!!")))

	_, err := a.ReadCString(0, 16)
	assert.Error(t, err)
}

func TestAddressSpaceSbrkGrowsAndShrinks(t *testing.T) {
	a := NewAddressSpace(1024)

	prev, err := a.Sbrk(100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), prev)
	assert.Equal(t, int64(100), a.HeapBreak())

	prev, err = a.Sbrk(-50)
	require.NoError(t, err)
	assert.Equal(t, int64(100), prev)
	assert.Equal(t, int64(50), a.HeapBreak())
}

func TestAddressSpaceSbrkRejectsOverLimit(t *testing.T) {
	a := NewAddressSpace(100)
	_, err := a.Sbrk(1000)
	assert.Error(t, err)
}

func TestAddressSpaceForkSharesUntilWrite(t *testing.T) {
	parent := NewAddressSpace(64)
	require.NoError(t, parent.Write(0, []byte("hello")))

	child := parent.Fork()

	data, err := child.Read(0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data), "child sees parent's bytes via the shared arena")

	require.NoError(t, child.Write(0, []byte("world")))

	parentData, err := parent.Read(0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(parentData), "parent's copy must be untouched by the child's write")

	childData, err := child.Read(0, 5)
	require.NoError(t, err)
	assert.Equal(t, "world", string(childData))
}

func TestAddressSpaceForkParentWriteAfterForkIsPrivate(t *testing.T) {
	parent := NewAddressSpace(64)
	require.NoError(t, parent.Write(0, []byte("aaaaa")))

	child := parent.Fork()

	require.NoError(t, parent.Write(0, []byte("bbbbb")))

	childData, err := child.Read(0, 5)
	require.NoError(t, err)
	assert.Equal(t, "aaaaa", string(childData), "child must keep the pre-write snapshot")

	parentData, err := parent.Read(0, 5)
	require.NoError(t, err)
	assert.Equal(t, "bbbbb", string(parentData))
}
