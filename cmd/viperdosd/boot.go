package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/splanck/viperdos/pkg/common"
	"github.com/splanck/viperdos/pkg/externalio"
	"github.com/splanck/viperdos/pkg/proc"
	"github.com/splanck/viperdos/pkg/syscall"
)

// memFile is a trivial in-memory FileBackend, the byte-stream counterpart
// to memDir, used to stand up a readable/writable file behind a
// DIRECTORY's OpenFile before a real filesystem package exists (spec
// §4.7 supplemented feature).
type memFile struct {
	mu   sync.Mutex
	data []byte
}

func newMemFile(initial []byte) *memFile {
	data := make([]byte, len(initial))
	copy(data, initial)
	return &memFile{data: data}
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 || off > int64(len(f.data)) {
		return 0, common.ErrInvalidArg
	}
	n := copy(p, f.data[off:])
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 {
		return 0, common.ErrInvalidArg
	}
	end := off + int64(len(p))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	return copy(f.data[off:], p), nil
}

func (f *memFile) Close() error { return nil }

func (f *memFile) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if size < 0 {
		return common.ErrInvalidArg
	}
	if size <= int64(len(f.data)) {
		f.data = f.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, f.data)
	f.data = grown
	return nil
}

func (f *memFile) Size() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.data)), nil
}

// memDir is a trivial in-memory DirectoryBackend used to stand up the
// assign namespace before a real filesystem package exists (spec §4.7
// supplemented feature: setup_standard_assigns()).
type memDir struct {
	inode    uint64
	children map[string]externalio.DirEntry
	subdirs  map[string]*memDir
	files    map[string]*memFile
}

func newMemDir(inode uint64) *memDir {
	return &memDir{
		inode:    inode,
		children: make(map[string]externalio.DirEntry),
		subdirs:  make(map[string]*memDir),
		files:    make(map[string]*memFile),
	}
}

func (d *memDir) ReadDir() ([]externalio.DirEntry, error) {
	out := make([]externalio.DirEntry, 0, len(d.children))
	for _, e := range d.children {
		out = append(out, e)
	}
	return out, nil
}

func (d *memDir) Lookup(name string) (externalio.DirEntry, bool, error) {
	e, ok := d.children[name]
	return e, ok, nil
}

func (d *memDir) Inode() uint64 { return d.inode }

func (d *memDir) OpenDir(name string) (externalio.DirectoryBackend, error) {
	sub, ok := d.subdirs[name]
	if !ok {
		return nil, common.ErrNotFound
	}
	return sub, nil
}

func (d *memDir) OpenFile(name string) (externalio.FileBackend, error) {
	f, ok := d.files[name]
	if !ok {
		return nil, common.ErrNotFound
	}
	return f, nil
}

// addSubdir registers a child directory both in the listing and the
// lookup-by-name maps.
func (d *memDir) addSubdir(name string, sub *memDir) {
	d.subdirs[name] = sub
	d.children[name] = externalio.DirEntry{Name: name, Inode: sub.inode, IsDir: true}
}

// addFile registers a child file both in the listing and the
// lookup-by-name maps.
func (d *memDir) addFile(name string, inode uint64, data []byte) {
	d.files[name] = newMemFile(data)
	d.children[name] = externalio.DirEntry{Name: name, Inode: inode, IsDir: false}
}

type memResolver struct {
	dirs map[string]*memDir
}

func (r memResolver) ResolveDir(path string) (externalio.DirectoryBackend, error) {
	if d, ok := r.dirs[path]; ok {
		return d, nil
	}
	d := newMemDir(uint64(len(r.dirs) + 1))
	r.dirs[path] = d
	return d, nil
}

// bootResult is everything a booted kernel needs to run the selftest
// scenarios or, eventually, serve real client connections.
type bootResult struct {
	Kernel *syscall.Kernel
	Init   *proc.Viper
}

// boot brings every subsystem up in dependency order: the assign
// namespace depends on the disk roots existing, SetupStandardAssigns
// depends on Init having run, and the init Viper depends on the kernel
// existing at all. An errgroup sequences steps that don't depend on each
// other (here, constructing the two disk-root directories) so boot scales
// to more independent subsystems without becoming a single linear
// function (spec §4.6 "boot sequencing").
func boot(ctx context.Context) (*bootResult, error) {
	k := syscall.NewKernel(nil)

	var sysRoot, disk0Root *memDir
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		sysRoot = newMemDir(1)
		return nil
	})
	g.Go(func() error {
		disk0Root = newMemDir(2)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	k.Assigns.Init(sysRoot, disk0Root)

	cDir := newMemDir(10)
	cDir.addFile("hello", 100, []byte("hello world"))
	sysRoot.addSubdir("c", cDir)

	resolver := memResolver{dirs: map[string]*memDir{
		"/c":     cDir,
		"/s":     newMemDir(11),
		"/l":     newMemDir(12),
		"/t":     newMemDir(13),
		"/certs": newMemDir(14),
	}}
	if err := k.Assigns.SetupStandardAssigns(resolver); err != nil {
		return nil, fmt.Errorf("setup standard assigns: %w", err)
	}

	init := proc.NewViper(1, "init", nil, nil)
	init.SetState(proc.ViperRunning)
	k.RegisterProcess(init)

	return &bootResult{Kernel: k, Init: init}, nil
}

func bootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boot",
		Short: "Bring up the kernel core and block until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := newLogger()
			res, err := boot(cmd.Context())
			if err != nil {
				return err
			}
			log.Info("boot complete", "init_pid", res.Init.ID())
			<-cmd.Context().Done()
			return nil
		},
	}
}
