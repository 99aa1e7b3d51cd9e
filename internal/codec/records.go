package codec

import (
	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"
)

// Magic identifies a pinoq volume. A superblock whose Magic field does
// not match this is not a pinoq volume at all, or was truncated badly
// enough to be unrecoverable.
const Magic uint32 = 0x504E4F51 // "PNOQ"

// SuperBlockSize is the fixed encoded size of SuperBlock: five
// 4-byte scalar fields, no variable-length parts.
const SuperBlockSize = 20

// SuperBlock is the volume's plaintext header.
type SuperBlock struct {
	Magic   uint32
	Aspects uint32
	Blocks  uint32
	UID     uint32
	GID     uint32
}

// Encode returns the fixed 20-byte encoding of sb.
func (sb SuperBlock) Encode() []byte {
	w := NewWriter()
	w.Uint32(sb.Magic)
	w.Uint32(sb.Aspects)
	w.Uint32(sb.Blocks)
	w.Uint32(sb.UID)
	w.Uint32(sb.GID)
	return w.Encoded()
}

// DecodeSuperBlock decodes a SuperBlock from its fixed 20-byte
// encoding.
func DecodeSuperBlock(b []byte) (SuperBlock, error) {
	var sb SuperBlock
	r := NewReader(b)
	var err error
	if sb.Magic, err = r.Uint32(); err != nil {
		return sb, err
	}
	if sb.Aspects, err = r.Uint32(); err != nil {
		return sb, err
	}
	if sb.Blocks, err = r.Uint32(); err != nil {
		return sb, err
	}
	if sb.UID, err = r.Uint32(); err != nil {
		return sb, err
	}
	if sb.GID, err = r.Uint32(); err != nil {
		return sb, err
	}
	return sb, nil
}

// EncryptedAspect is the on-disk aspect slot: a clear-text wrap key
// plus the ciphertext of the plaintext aspect record. See
// internal/aspect for the sealing/opening logic around this envelope.
type EncryptedAspect struct {
	WrapKey    [32]byte
	Ciphertext []byte
}

// Encode returns WrapKey followed by a length-prefixed Ciphertext.
func (e EncryptedAspect) Encode() []byte {
	w := NewWriter()
	w.Raw(e.WrapKey[:])
	w.Bytes(e.Ciphertext)
	return w.Encoded()
}

// DecodeEncryptedAspect decodes an EncryptedAspect previously produced
// by Encode.
func DecodeEncryptedAspect(b []byte) (EncryptedAspect, error) {
	var e EncryptedAspect
	r := NewReader(b)
	key, err := r.Raw(32)
	if err != nil {
		return e, xerrors.Errorf("codec: decoding aspect wrap key: %w", err)
	}
	copy(e.WrapKey[:], key)
	if e.Ciphertext, err = r.Bytes(); err != nil {
		return e, xerrors.Errorf("codec: decoding aspect ciphertext: %w", err)
	}
	return e, nil
}

// sentinel marks "no block"/"uninitialized" for both INode.DataBlock
// and Aspect.RootBlock, and "end of chain" for Block.NextBlock.
const Sentinel uint32 = 0xFFFFFFFF

// INode is the fixed-field inode record: mode, size, preferred block
// size, ownership, and the index of the first data block.
type INode struct {
	Mode      uint32
	Size      uint64
	BlockSize uint32
	UID       uint32
	GID       uint32
	DataBlock uint32
}

// IsDir reports whether the inode's mode bit marks a directory.
func (n INode) IsDir() bool {
	return n.Mode&ModeDir != 0
}

// POSIX mode bits this package cares about. Only the type bits are
// ever inspected; permission bits are carried but not enforced (no
// POSIX permission enforcement is in scope).
const (
	ModeDir = 0040000 // S_IFDIR
	ModeReg = 0100000 // S_IFREG
)

// Encode returns the fixed 28-byte encoding of n.
func (n INode) Encode() []byte {
	w := NewWriter()
	w.Uint32(n.Mode)
	w.Uint64(n.Size)
	w.Uint32(n.BlockSize)
	w.Uint32(n.UID)
	w.Uint32(n.GID)
	w.Uint32(n.DataBlock)
	return w.Encoded()
}

// DecodeINode decodes an INode from its fixed 28-byte encoding.
func DecodeINode(b []byte) (INode, error) {
	var n INode
	r := NewReader(b)
	var err error
	if n.Mode, err = r.Uint32(); err != nil {
		return n, err
	}
	if n.Size, err = r.Uint64(); err != nil {
		return n, err
	}
	if n.BlockSize, err = r.Uint32(); err != nil {
		return n, err
	}
	if n.UID, err = r.Uint32(); err != nil {
		return n, err
	}
	if n.GID, err = r.Uint32(); err != nil {
		return n, err
	}
	if n.DataBlock, err = r.Uint32(); err != nil {
		return n, err
	}
	if r.Remaining() != 0 {
		return n, xerrors.Errorf("codec: %d trailing bytes after inode", r.Remaining())
	}
	return n, nil
}

// Dir is an ordered mapping from entry name to the block index of the
// child's inode. Entries iterate and encode in lexicographic order by
// name, so that the same directory always encodes to the same bytes.
type Dir struct {
	Entries map[string]uint32
}

// NewDir returns an empty directory.
func NewDir() *Dir {
	return &Dir{Entries: make(map[string]uint32)}
}

// Names returns the entry names sorted lexicographically.
func (d *Dir) Names() []string {
	names := make([]string, 0, len(d.Entries))
	for name := range d.Entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Encode returns a uint64 entry count followed by each
// (name, child-block) pair in lexicographic order by name.
func (d *Dir) Encode() []byte {
	names := d.Names()
	w := NewWriter()
	w.Uint64(uint64(len(names)))
	for _, name := range names {
		w.String(name)
		w.Uint32(d.Entries[name])
	}
	return w.Encoded()
}

// DecodeDir decodes a Dir previously produced by Encode.
func DecodeDir(b []byte) (*Dir, error) {
	d := NewDir()
	r := NewReader(b)
	count, err := r.Uint64()
	if err != nil {
		return nil, xerrors.Errorf("codec: decoding directory entry count: %w", err)
	}
	for i := uint64(0); i < count; i++ {
		name, err := r.String()
		if err != nil {
			return nil, xerrors.Errorf("codec: decoding directory entry name: %w", err)
		}
		child, err := r.Uint32()
		if err != nil {
			return nil, xerrors.Errorf("codec: decoding directory entry child: %w", err)
		}
		d.Entries[name] = child
	}
	if r.Remaining() != 0 {
		return nil, xerrors.Errorf("codec: %d trailing bytes after directory", r.Remaining())
	}
	return d, nil
}

// Block is one link in a chained data block: the index of the next
// block in the chain (Sentinel if this is the last one) and the raw
// payload.
type Block struct {
	NextBlock uint32
	Data      []byte
}

// Encode returns NextBlock followed by a length-prefixed Data.
func (b Block) Encode() []byte {
	w := NewWriter()
	w.Uint32(b.NextBlock)
	w.Bytes(b.Data)
	return w.Encoded()
}

// DecodeBlock decodes a Block previously produced by Encode.
func DecodeBlock(raw []byte) (Block, error) {
	var b Block
	r := NewReader(raw)
	var err error
	if b.NextBlock, err = r.Uint32(); err != nil {
		return b, err
	}
	if b.Data, err = r.Bytes(); err != nil {
		return b, err
	}
	if r.Remaining() != 0 {
		return b, xerrors.Errorf("codec: %d trailing bytes after data block", r.Remaining())
	}
	return b, nil
}
