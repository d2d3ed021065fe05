package kobj

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type finalizeProbe struct {
	Object
	finalized bool
}

func (p *finalizeProbe) Finalize() { p.finalized = true }

func newProbe() *finalizeProbe {
	return &finalizeProbe{Object: NewObject(KindProbe)}
}

// KindProbe is a test-only kind value, outside the real cap.Kind range.
const KindProbe = 0xFFFF

func TestObjectRefUnrefLifecycle(t *testing.T) {
	p := newProbe()
	assert.Equal(t, int32(1), p.RefCount())

	p.Ref()
	assert.Equal(t, int32(2), p.RefCount())

	assert.False(t, p.Unref(), "still one reference outstanding")
	assert.True(t, p.Unref(), "last reference dropped")
}

func TestReleaseFinalizesOnLastRef(t *testing.T) {
	p := newProbe()
	p.Ref()

	Release(p)
	assert.False(t, p.finalized, "one reference still outstanding")

	Release(p)
	assert.True(t, p.finalized, "last reference must trigger finalize")
}

func TestRefCloneSharesFinalization(t *testing.T) {
	p := newProbe()
	r1 := MakeRef[*finalizeProbe](p)
	r2 := r1.Clone()

	require.Equal(t, int32(2), p.RefCount())

	r1.Release()
	assert.False(t, p.finalized)

	r2.Release()
	assert.True(t, p.finalized)
}
