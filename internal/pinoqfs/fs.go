// Package pinoqfs implements the aspect-scoped filesystem semantics a
// kernel userland-filesystem bridge drives: inode/directory/file
// blocks, lookup, creation, chained-block read/write, and open-file
// cursor state. It knows nothing about FUSE; internal/fusebridge
// adapts this package's vocabulary (block-index inode numbers, the
// Kind/Error pair) to jacobsa/fuse's types.
package pinoqfs

import (
	"sync"

	"github.com/pinoq/pinoq/internal/aspect"
	"github.com/pinoq/pinoq/internal/blockstore"
	"github.com/pinoq/pinoq/internal/codec"
	"github.com/pinoq/pinoq/internal/layout"
)

// RootIno is the bridge-facing inode number of the mount root. The
// core translates it to the current aspect's root block; every other
// inode number is a block index, passed through verbatim. Inodes live
// in single blocks, so the aliasing is safe for now, but the two
// number spaces must not be assumed equal if that ever changes.
const RootIno = 1

// Usage is the free-block accounting the filesystem allocates
// against. It is satisfied by internal/volume.GlobalUsage, which
// tracks "used by some aspect" in a plaintext on-disk summary so that
// mounting one aspect never requires any other aspect's password: the
// mount knows only the current aspect's bitmap plus this opaque
// used/free summary.
type Usage interface {
	NextFree() (uint32, bool)
	Mark(i uint32) error
}

// SealFunc persists the current aspect's plaintext record back to its
// on-disk envelope (a fresh wrap key, re-encrypted under the mount
// password) after any mutation. Kept as an injected closure so this
// package never needs to know the aspect's index or password.
type SealFunc func(*aspect.Aspect) error

// handle is the per-open-file cursor: fresh until the first
// read or write touches it, then pointing at a block index (which may
// be codec.Sentinel, meaning EOF for reads or "no earlier block" is no
// longer possible once fresh is false).
type handle struct {
	fresh bool
	next  uint32
}

// FS is one mounted aspect: its plaintext record, the block store it
// reads/writes through, the global usage summary it allocates against,
// and the open-file table.
type FS struct {
	mu sync.Mutex

	store   *blockstore.Store
	usage   Usage
	current *aspect.Aspect
	seal    SealFunc
	uid     uint32
	gid     uint32

	handles map[uint64]*handle
	nextFH  uint64
}

// New returns an FS over an already-opened aspect. Callers must still
// call EnsureRoot before serving bridge requests.
func New(store *blockstore.Store, usage Usage, current *aspect.Aspect, uid, gid uint32, seal SealFunc) *FS {
	return &FS{
		store:   store,
		usage:   usage,
		current: current,
		seal:    seal,
		uid:     uid,
		gid:     gid,
		handles: make(map[uint64]*handle),
	}
}

func (fs *FS) translateIno(ino uint32) uint32 {
	if ino == RootIno {
		return fs.current.RootBlock
	}
	return ino
}

func (fs *FS) allocateLocked() (uint32, error) {
	i, ok := fs.usage.NextFree()
	if !ok {
		return 0, &Error{Kind: NoSpace}
	}
	if err := fs.usage.Mark(i); err != nil {
		return 0, ioErr(err)
	}
	fs.current.BlockMap.Set(uint(i))
	return i, nil
}

func (fs *FS) resealLocked() error {
	if err := fs.seal(fs.current); err != nil {
		return ioErr(err)
	}
	return nil
}

// EnsureRoot bootstraps the current aspect's root directory if it
// doesn't have one yet: one block for the root inode, one for an
// empty directory, then a re-seal recording the new root block.
func (fs *FS) EnsureRoot() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.current.HasRoot() {
		return nil
	}

	inodeBlock, err := fs.allocateLocked()
	if err != nil {
		return err
	}
	dirBlock, err := fs.allocateLocked()
	if err != nil {
		return err
	}

	root := codec.INode{
		Mode:      codec.ModeDir,
		BlockSize: layout.BlockSize,
		UID:       fs.uid,
		GID:       fs.gid,
		DataBlock: dirBlock,
	}
	if err := fs.store.StoreINode(inodeBlock, fs.current.DataKey, root); err != nil {
		return ioErr(err)
	}
	if err := fs.store.StoreDir(dirBlock, fs.current.DataKey, codec.NewDir()); err != nil {
		return ioErr(err)
	}
	fs.current.RootBlock = inodeBlock
	return fs.resealLocked()
}

// GetAttr loads and returns the inode at ino.
func (fs *FS) GetAttr(ino uint32) (codec.INode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	node, err := fs.store.LoadINode(fs.translateIno(ino), fs.current.DataKey)
	if err != nil {
		return codec.INode{}, decodeErr(err)
	}
	return node, nil
}

// SetAttr only re-reports the current attributes; nothing is
// persisted.
func (fs *FS) SetAttr(ino uint32) (codec.INode, error) {
	return fs.GetAttr(ino)
}

// Lookup resolves name within parentIno's directory.
func (fs *FS) Lookup(parentIno uint32, name string) (codec.INode, uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.store.LoadINode(fs.translateIno(parentIno), fs.current.DataKey)
	if err != nil {
		return codec.INode{}, 0, decodeErr(err)
	}
	if !parent.IsDir() {
		return codec.INode{}, 0, &Error{Kind: NotDir}
	}
	dir, err := fs.store.LoadDir(parent.DataBlock, fs.current.DataKey)
	if err != nil {
		return codec.INode{}, 0, decodeErr(err)
	}
	child, ok := dir.Entries[name]
	if !ok {
		return codec.INode{}, 0, &Error{Kind: NoEntry}
	}
	node, err := fs.store.LoadINode(child, fs.current.DataKey)
	if err != nil {
		return codec.INode{}, 0, decodeErr(err)
	}
	return node, child, nil
}

// DirEntry is one synthesized or stored readdir result.
type DirEntry struct {
	Name   string
	Ino    uint32
	IsDir  bool
	Cookie uint64
}

// ReadDir loads ino's directory and returns "." and ".." followed by
// its stored entries in lexicographic order, each tagged with a
// 1-based cookie so the bridge can resume at any offset.
func (fs *FS) ReadDir(ino uint32) ([]DirEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	real := fs.translateIno(ino)
	node, err := fs.store.LoadINode(real, fs.current.DataKey)
	if err != nil {
		return nil, decodeErr(err)
	}
	if !node.IsDir() {
		return nil, &Error{Kind: NotDir}
	}
	dir, err := fs.store.LoadDir(node.DataBlock, fs.current.DataKey)
	if err != nil {
		return nil, decodeErr(err)
	}

	entries := []DirEntry{
		{Name: ".", Ino: ino, IsDir: true},
		{Name: "..", Ino: RootIno, IsDir: true},
	}
	for _, name := range dir.Names() {
		childBlock := dir.Entries[name]
		child, err := fs.store.LoadINode(childBlock, fs.current.DataKey)
		if err != nil {
			// A single unreadable entry shouldn't hide the rest of
			// the directory; it will surface its own decode error if
			// the caller tries to look it up directly.
			continue
		}
		entries = append(entries, DirEntry{Name: name, Ino: childBlock, IsDir: child.IsDir()})
	}
	for i := range entries {
		entries[i].Cookie = uint64(i + 1)
	}
	return entries, nil
}

// Create allocates a new regular-file inode named name under
// parentIno's directory.
func (fs *FS) Create(parentIno uint32, name string) (codec.INode, uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentBlock := fs.translateIno(parentIno)
	parent, err := fs.store.LoadINode(parentBlock, fs.current.DataKey)
	if err != nil {
		return codec.INode{}, 0, decodeErr(err)
	}
	if !parent.IsDir() {
		return codec.INode{}, 0, &Error{Kind: NotDir}
	}
	dir, err := fs.store.LoadDir(parent.DataBlock, fs.current.DataKey)
	if err != nil {
		return codec.INode{}, 0, decodeErr(err)
	}

	c, err := fs.allocateLocked()
	if err != nil {
		return codec.INode{}, 0, err
	}
	node := codec.INode{
		Mode:      codec.ModeReg,
		BlockSize: layout.BlockSize,
		UID:       fs.uid,
		GID:       fs.gid,
		DataBlock: codec.Sentinel,
	}

	dir.Entries[name] = c
	if err := fs.store.StoreINode(parentBlock, fs.current.DataKey, parent); err != nil {
		return codec.INode{}, 0, ioErr(err)
	}
	if err := fs.store.StoreDir(parent.DataBlock, fs.current.DataKey, dir); err != nil {
		return codec.INode{}, 0, ioErr(err)
	}
	if err := fs.store.StoreINode(c, fs.current.DataKey, node); err != nil {
		return codec.INode{}, 0, ioErr(err)
	}
	if err := fs.resealLocked(); err != nil {
		return codec.INode{}, 0, err
	}
	return node, c, nil
}

// Open allocates a bridge file handle for ino, reporting that direct
// I/O is required: the kernel page cache must be bypassed since each
// block is encrypted independently.
func (fs *FS) Open(ino uint32) (fh uint64, directIO bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nextFH++
	fh = fs.nextFH
	fs.handles[fh] = &handle{fresh: true}
	return fh, true
}

// Release discards the cursor state for fh.
func (fs *FS) Release(fh uint64) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.handles, fh)
}

// maxChunk is the largest payload a single chained Block can carry:
// the block size minus framing (u64 length prefix), the next-block
// field, and PKCS#7 padding rounding.
const maxChunk = layout.BlockSize - 32

// Write appends data as a chain of blocks starting after fh's cursor,
// returning the number of bytes written.
func (fs *FS) Write(fh uint64, ino uint32, data []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	h, ok := fs.handles[fh]
	if !ok {
		return 0, &Error{Kind: IO}
	}
	if len(data) == 0 {
		return 0, nil
	}

	inoBlock := fs.translateIno(ino)
	first, err := fs.allocateLocked()
	if err != nil {
		return 0, err
	}

	if h.fresh {
		inode, err := fs.store.LoadINode(inoBlock, fs.current.DataKey)
		if err != nil {
			return 0, decodeErr(err)
		}
		inode.DataBlock = first
		if err := fs.store.StoreINode(inoBlock, fs.current.DataKey, inode); err != nil {
			return 0, ioErr(err)
		}
	} else {
		prev, err := fs.store.LoadBlock(h.next, fs.current.DataKey)
		if err != nil {
			return 0, decodeErr(err)
		}
		prev.NextBlock = first
		if err := fs.store.StoreBlock(h.next, fs.current.DataKey, prev); err != nil {
			return 0, ioErr(err)
		}
	}

	chunks := chunkPayload(data, maxChunk)
	current := first
	for i, chunk := range chunks {
		last := i == len(chunks)-1
		next := codec.Sentinel
		if !last {
			next, err = fs.allocateLocked()
			if err != nil {
				return 0, err
			}
		}
		if err := fs.store.StoreBlock(current, fs.current.DataKey, codec.Block{NextBlock: next, Data: chunk}); err != nil {
			return 0, ioErr(err)
		}
		if last {
			h.fresh = false
			h.next = current
		}
		current = next
	}

	if err := fs.resealLocked(); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Read returns the next chained block's payload for fh, or nil at EOF.
// There is no offset parameter: each call advances the cursor by
// exactly one block regardless of any seek the caller performed.
func (fs *FS) Read(fh uint64, ino uint32) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	h, ok := fs.handles[fh]
	if !ok {
		return nil, &Error{Kind: IO}
	}

	var b uint32
	if h.fresh {
		inode, err := fs.store.LoadINode(fs.translateIno(ino), fs.current.DataKey)
		if err != nil {
			return nil, decodeErr(err)
		}
		b = inode.DataBlock
	} else {
		b = h.next
	}

	if b == codec.Sentinel {
		h.fresh = false
		h.next = codec.Sentinel
		return nil, nil
	}

	blk, err := fs.store.LoadBlock(b, fs.current.DataKey)
	if err != nil {
		return nil, decodeErr(err)
	}
	h.fresh = false
	h.next = blk.NextBlock
	return blk.Data, nil
}

func chunkPayload(data []byte, max int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	var chunks [][]byte
	for len(data) > 0 {
		n := max
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}
