package pinoqfs

import (
	"errors"
	"testing"

	"github.com/bits-and-blooms/bitset"

	"github.com/pinoq/pinoq/internal/aspect"
	"github.com/pinoq/pinoq/internal/blockstore"
	"github.com/pinoq/pinoq/internal/layout"
)

// memVolume is an in-memory stand-in for the memory-mapped backing
// file, sized for a single-aspect test volume.
type memVolume struct {
	data []byte
}

func newMemVolume(blocks uint32) *memVolume {
	return &memVolume{data: make([]byte, layout.VolumeLength(1, blocks))}
}

func (m *memVolume) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, m.data[off:]), nil
}

func (m *memVolume) WriteAt(p []byte, off int64) (int, error) {
	return copy(m.data[off:], p), nil
}

// fakeUsage is a bare bitset-backed Usage for tests; internal/volume's
// GlobalUsage is the real, disk-persisted implementation.
type fakeUsage struct {
	bm     *bitset.BitSet
	blocks uint32
}

func newFakeUsage(blocks uint32) *fakeUsage {
	return &fakeUsage{bm: bitset.New(uint(blocks)), blocks: blocks}
}

func (u *fakeUsage) NextFree() (uint32, bool) {
	i, ok := u.bm.NextClear(0)
	if !ok || i >= uint(u.blocks) {
		return 0, false
	}
	return uint32(i), true
}

func (u *fakeUsage) Mark(i uint32) error {
	u.bm.Set(uint(i))
	return nil
}

func newTestFS(t *testing.T, blocks uint32) *FS {
	t.Helper()
	vol := newMemVolume(blocks)
	store := blockstore.New(vol, 1, blocks)
	a, err := aspect.New(blocks)
	if err != nil {
		t.Fatal(err)
	}
	usage := newFakeUsage(blocks)
	fs := New(store, usage, a, 1000, 1000, func(*aspect.Aspect) error { return nil })
	if err := fs.EnsureRoot(); err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestEmptyRootReaddir(t *testing.T) {
	fs := newTestFS(t, 64)
	entries, err := fs.ReadDir(RootIno)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Name != "." || entries[1].Name != ".." {
		t.Errorf("got %+v, want exactly [. ..]", entries)
	}
}

func TestCreateThenLookupThenReaddir(t *testing.T) {
	fs := newTestFS(t, 64)
	node, ino, err := fs.Create(RootIno, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if node.IsDir() || node.Size != 0 {
		t.Errorf("created node = %+v, want empty regular file", node)
	}

	got, gotIno, err := fs.Lookup(RootIno, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if gotIno != ino || got.Mode != node.Mode {
		t.Errorf("lookup = (%+v, %d), want (%+v, %d)", got, gotIno, node, ino)
	}

	entries, err := fs.ReadDir(RootIno)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 || entries[2].Name != "hello" {
		t.Errorf("got %+v, want [. .. hello]", entries)
	}
}

func TestLookupMissingNameIsNoEntry(t *testing.T) {
	fs := newTestFS(t, 64)
	_, _, err := fs.Lookup(RootIno, "nope")
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != NoEntry {
		t.Errorf("err = %v, want NoEntry", err)
	}
}

func TestLookupThroughRegularFileIsNotDir(t *testing.T) {
	fs := newTestFS(t, 64)
	_, ino, err := fs.Create(RootIno, "hello")
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = fs.Lookup(ino, "anything")
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != NotDir {
		t.Errorf("err = %v, want NotDir", err)
	}
}

func TestWriteReadRoundTripSingleBlock(t *testing.T) {
	fs := newTestFS(t, 64)
	_, ino, err := fs.Create(RootIno, "hello")
	if err != nil {
		t.Fatal(err)
	}

	fh, directIO := fs.Open(ino)
	if !directIO {
		t.Error("Open should report direct I/O is required")
	}
	payload := []byte("hello, pinoq")
	n, err := fs.Write(fh, ino, payload)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(payload) {
		t.Errorf("wrote %d bytes, want %d", n, len(payload))
	}
	fs.Release(fh)

	fh, _ = fs.Open(ino)
	got, err := fs.Read(fh, ino)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Errorf("read %q, want %q", got, payload)
	}
	eof, err := fs.Read(fh, ino)
	if err != nil {
		t.Fatal(err)
	}
	if eof != nil {
		t.Errorf("expected EOF (nil), got %q", eof)
	}
}

func TestWriteSpansTwoChainedBlocks(t *testing.T) {
	fs := newTestFS(t, 64)
	_, ino, err := fs.Create(RootIno, "hello")
	if err != nil {
		t.Fatal(err)
	}

	fh, _ := fs.Open(ino)
	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = 69
	}
	if _, err := fs.Write(fh, ino, payload); err != nil {
		t.Fatal(err)
	}
	fs.Release(fh)

	inode, err := fs.GetAttr(ino)
	if err != nil {
		t.Fatal(err)
	}
	first, err := fs.store.LoadBlock(inode.DataBlock, fs.current.DataKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Data) != maxChunk {
		t.Errorf("first chunk = %d bytes, want %d", len(first.Data), maxChunk)
	}
	second, err := fs.store.LoadBlock(first.NextBlock, fs.current.DataKey)
	if err != nil {
		t.Fatal(err)
	}
	if second.NextBlock != 0xFFFFFFFF {
		t.Errorf("second block next_block = %#x, want sentinel", second.NextBlock)
	}
	if len(first.Data)+len(second.Data) != len(payload) {
		t.Errorf("concatenated payload length = %d, want %d", len(first.Data)+len(second.Data), len(payload))
	}
}

func TestRootBootstrapIsIdempotent(t *testing.T) {
	fs := newTestFS(t, 64)
	root := fs.current.RootBlock
	if err := fs.EnsureRoot(); err != nil {
		t.Fatal(err)
	}
	if fs.current.RootBlock != root {
		t.Error("calling EnsureRoot twice should not reallocate the root")
	}
}

func TestAllocationExhaustionIsNoSpace(t *testing.T) {
	fs := newTestFS(t, 3) // EnsureRoot uses blocks 0 and 1 of 3.
	if _, _, err := fs.Create(RootIno, "a"); err != nil {
		t.Fatal(err)
	}
	_, _, err := fs.Create(RootIno, "b")
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != NoSpace {
		t.Errorf("err = %v, want NoSpace", err)
	}
}
