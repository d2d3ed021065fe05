package cap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct{ kind Kind }

func (f *fakeObject) Kind() Kind { return f.kind }

func TestTableInsertGetRemoveRoundTrip(t *testing.T) {
	tbl := NewTable(4)
	obj := &fakeObject{kind: KindChannel}

	h := tbl.Insert(obj, KindChannel, RW)
	require.NotEqual(t, Invalid, h)
	assert.Equal(t, 1, tbl.Count())

	e := tbl.Get(h)
	require.NotNil(t, e)
	assert.Equal(t, obj, e.Object())
	assert.Equal(t, RW, e.Rights())
	assert.Equal(t, KindChannel, e.Kind())
	assert.Equal(t, NoParent, e.ParentIndex())

	tbl.Remove(h)
	assert.Equal(t, 0, tbl.Count())
	assert.Nil(t, tbl.Get(h))
}

func TestTableStaleHandleAfterReuse(t *testing.T) {
	tbl := NewTable(2)
	obj := &fakeObject{kind: KindFile}

	h1 := tbl.Insert(obj, KindFile, Read)
	tbl.Remove(h1)

	h2 := tbl.Insert(obj, KindFile, Read)
	require.NotEqual(t, Invalid, h2)

	assert.NotEqual(t, h1, h2, "reused slot must carry a new generation")
	assert.Nil(t, tbl.Get(h1), "the old handle must not resolve after reuse")
	assert.NotNil(t, tbl.Get(h2))
}

func TestTableFullReturnsInvalid(t *testing.T) {
	tbl := NewTable(1)
	obj := &fakeObject{kind: KindBlob}

	h := tbl.Insert(obj, KindBlob, Read)
	require.NotEqual(t, Invalid, h)

	h2 := tbl.Insert(obj, KindBlob, Read)
	assert.Equal(t, Invalid, h2)
}

func TestTableGetCheckedRejectsWrongKind(t *testing.T) {
	tbl := NewTable(4)
	obj := &fakeObject{kind: KindChannel}
	h := tbl.Insert(obj, KindChannel, RW)

	assert.NotNil(t, tbl.GetChecked(h, KindChannel))
	assert.Nil(t, tbl.GetChecked(h, KindFile))
}

func TestTableGetWithRightsRequiresAllBits(t *testing.T) {
	tbl := NewTable(4)
	obj := &fakeObject{kind: KindFile}
	h := tbl.Insert(obj, KindFile, Read)

	assert.NotNil(t, tbl.GetWithRights(h, KindFile, Read))
	assert.Nil(t, tbl.GetWithRights(h, KindFile, Write))
	assert.Nil(t, tbl.GetWithRights(h, KindFile, RW))
}

func TestTableDeriveNarrowsRights(t *testing.T) {
	tbl := NewTable(4)
	obj := &fakeObject{kind: KindChannel}
	parent := tbl.Insert(obj, KindChannel, RW|Derive|Transfer)

	child := tbl.Derive(parent, Read|Write|Execute)
	require.NotEqual(t, Invalid, child)

	e := tbl.Get(child)
	require.NotNil(t, e)
	assert.Equal(t, Read|Write, e.Rights(), "derive must intersect, never grant new bits")
	assert.Equal(t, parent.Index(), e.ParentIndex())
}

func TestTableDeriveRequiresDeriveRight(t *testing.T) {
	tbl := NewTable(4)
	obj := &fakeObject{kind: KindChannel}
	parent := tbl.Insert(obj, KindChannel, RW)

	child := tbl.Derive(parent, Read)
	assert.Equal(t, Invalid, child)
}

func TestTableRevokePropagatesToDescendants(t *testing.T) {
	tbl := NewTable(8)
	obj := &fakeObject{kind: KindChannel}
	root := tbl.Insert(obj, KindChannel, RW|Derive)
	child1 := tbl.Derive(root, Read|Derive)
	child2 := tbl.Derive(root, Write|Derive)
	grandchild := tbl.Derive(child1, Read)

	require.NotNil(t, tbl.Get(child1))
	require.NotNil(t, tbl.Get(child2))
	require.NotNil(t, tbl.Get(grandchild))

	n := tbl.Revoke(root)
	assert.Equal(t, uint32(4), n, "root + 2 children + 1 grandchild")

	assert.Nil(t, tbl.Get(root))
	assert.Nil(t, tbl.Get(child1))
	assert.Nil(t, tbl.Get(child2))
	assert.Nil(t, tbl.Get(grandchild))
}

func TestTableRevokeLeavesSiblingsAlone(t *testing.T) {
	tbl := NewTable(8)
	obj := &fakeObject{kind: KindChannel}
	root := tbl.Insert(obj, KindChannel, RW|Derive)
	child := tbl.Derive(root, Read|Derive)
	other := tbl.Insert(obj, KindChannel, Read)

	tbl.Revoke(child)

	assert.NotNil(t, tbl.Get(root))
	assert.Nil(t, tbl.Get(child))
	assert.NotNil(t, tbl.Get(other))
}

func TestTableConcurrentInsertRemove(t *testing.T) {
	tbl := NewTable(64)
	obj := &fakeObject{kind: KindBlob}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := tbl.Insert(obj, KindBlob, Read)
			if h != Invalid {
				tbl.Get(h)
				tbl.Remove(h)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, tbl.Count())
}
