package assign

import (
	"io"
	"testing"

	"github.com/splanck/viperdos/pkg/cap"
	"github.com/splanck/viperdos/pkg/common"
	"github.com/splanck/viperdos/pkg/externalio"
	"github.com/splanck/viperdos/pkg/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFile struct {
	data []byte
}

func (f *fakeFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	return copy(p, f.data[off:]), nil
}
func (f *fakeFile) WriteAt(p []byte, off int64) (int, error) { return len(p), nil }
func (f *fakeFile) Close() error                             { return nil }
func (f *fakeFile) Truncate(size int64) error                { return nil }
func (f *fakeFile) Size() (int64, error)                     { return int64(len(f.data)), nil }

type fakeDir struct {
	inode    uint64
	children map[string]externalio.DirEntry
	subdirs  map[string]*fakeDir
	files    map[string]*fakeFile
}

func (f fakeDir) ReadDir() ([]externalio.DirEntry, error) {
	out := make([]externalio.DirEntry, 0, len(f.children))
	for _, e := range f.children {
		out = append(out, e)
	}
	return out, nil
}
func (f fakeDir) Lookup(name string) (externalio.DirEntry, bool, error) {
	e, ok := f.children[name]
	return e, ok, nil
}
func (f fakeDir) Inode() uint64 { return f.inode }
func (f fakeDir) OpenDir(name string) (externalio.DirectoryBackend, error) {
	d, ok := f.subdirs[name]
	if !ok {
		return nil, common.ErrNotFound
	}
	return d, nil
}
func (f fakeDir) OpenFile(name string) (externalio.FileBackend, error) {
	file, ok := f.files[name]
	if !ok {
		return nil, common.ErrNotFound
	}
	return file, nil
}

func TestAssignCaseInsensitiveLookup(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Set("sys", fakeDir{inode: 1}))

	assert.True(t, tbl.Exists("SYS"))
	assert.True(t, tbl.Exists("Sys"))
	assert.True(t, tbl.Exists("sys"))
}

func TestAssignInitEntriesAreSystemProtected(t *testing.T) {
	tbl := NewTable()
	tbl.Init(fakeDir{inode: 1}, fakeDir{inode: 2})

	assert.True(t, tbl.IsSystem("SYS"))
	assert.True(t, tbl.IsSystem("D0"))

	err := tbl.Set("SYS", fakeDir{inode: 3})
	assert.ErrorIs(t, err, common.ErrPermission)

	err = tbl.Remove("SYS")
	assert.ErrorIs(t, err, common.ErrPermission)
}

func TestAssignGetMintsFreshHandleEachCall(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Set("C", fakeDir{inode: 5}))
	capTable := cap.NewTable(16)

	h1, err := tbl.Get("C", capTable)
	require.NoError(t, err)
	h2, err := tbl.Get("C", capTable)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2, "each Get must mint an independent capability")
	e1 := capTable.Get(h1)
	require.NotNil(t, e1)
	assert.True(t, e1.Rights().Has(cap.Read|cap.Traverse))
	assert.False(t, e1.Rights().Has(cap.Write))
}

func TestAssignGetChannelMintsSendOnlyCapability(t *testing.T) {
	tbl := NewTable()
	ch := ipc.NewChannel(4)
	require.NoError(t, tbl.SetChannel("svc", ch))
	capTable := cap.NewTable(16)

	h, err := tbl.GetChannel("svc", capTable)
	require.NoError(t, err)
	e := capTable.Get(h)
	require.NotNil(t, e)
	assert.True(t, e.Rights().Has(cap.Write|cap.Transfer))
	assert.False(t, e.Rights().Has(cap.Read))
}

func TestAssignAddChainsEntries(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Set("L", fakeDir{inode: 1}))
	require.NoError(t, tbl.Add("L", fakeDir{inode: 2}))

	assert.True(t, tbl.Exists("L"))

	err := tbl.Remove("L")
	require.NoError(t, err)
	assert.False(t, tbl.Exists("L"))
}

func TestAssignNotFound(t *testing.T) {
	tbl := NewTable()
	capTable := cap.NewTable(16)
	_, err := tbl.Get("NOPE", capTable)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestParseAssign(t *testing.T) {
	name, rest, ok := ParseAssign("SYS:bin/init")
	require.True(t, ok)
	assert.Equal(t, "SYS", name)
	assert.Equal(t, "bin/init", rest)

	_, _, ok = ParseAssign("no-colon-here")
	assert.False(t, ok)
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"bin", "init"}, SplitPath("/bin/init"))
	assert.Equal(t, []string{"bin", "init"}, SplitPath("bin\\init"))
	assert.Equal(t, []string{"a", "b"}, SplitPath("//a//b//"))
}

func TestResolvePathOpensFinalFile(t *testing.T) {
	cDir := fakeDir{
		inode:    10,
		children: map[string]externalio.DirEntry{"hello": {Name: "hello", Inode: 100, IsDir: false}},
		files:    map[string]*fakeFile{"hello": {data: []byte("hello world")}},
	}
	sysRoot := fakeDir{
		inode:    1,
		children: map[string]externalio.DirEntry{"c": {Name: "c", Inode: 10, IsDir: true}},
		subdirs:  map[string]*fakeDir{"c": &cDir},
	}

	tbl := NewTable()
	tbl.Init(sysRoot, fakeDir{inode: 2})

	capTable := cap.NewTable(16)
	h, err := tbl.ResolvePath("SYS:c/hello", 0, capTable)
	require.NoError(t, err)

	e := capTable.Get(h)
	require.NotNil(t, e)
	assert.Equal(t, cap.KindFile, e.Kind())
}

func TestResolvePathOpensFinalDirectory(t *testing.T) {
	cDir := fakeDir{inode: 10}
	sysRoot := fakeDir{
		inode:    1,
		children: map[string]externalio.DirEntry{"c": {Name: "c", Inode: 10, IsDir: true}},
		subdirs:  map[string]*fakeDir{"c": &cDir},
	}

	tbl := NewTable()
	tbl.Init(sysRoot, fakeDir{inode: 2})

	capTable := cap.NewTable(16)
	h, err := tbl.ResolvePath("SYS:c", 0, capTable)
	require.NoError(t, err)

	e := capTable.Get(h)
	require.NotNil(t, e)
	assert.Equal(t, cap.KindDirectory, e.Kind())
}

func TestResolvePathMissingComponent(t *testing.T) {
	tbl := NewTable()
	tbl.Init(fakeDir{inode: 1}, fakeDir{inode: 2})

	capTable := cap.NewTable(16)
	_, err := tbl.ResolvePath("SYS:nope", 0, capTable)
	assert.ErrorIs(t, err, common.ErrNotFound)
}
