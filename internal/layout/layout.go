// Package layout computes the byte offsets of every region of a
// pinoq volume from its geometry (aspects, blocks). These are pure
// functions of (A, B, n): the superblock comes first, then the
// plaintext global usage bitmap, then the A aspect slots, then the B
// data blocks.
package layout

import (
	"github.com/pinoq/pinoq/internal/codec"
	"github.com/pinoq/pinoq/internal/pcrypto"
)

// BlockSize is the fixed size, in bytes, of every data-block slot.
// Every encoded+encrypted block must fit within it; violating this is
// a fatal encoding error (see internal/blockstore).
const BlockSize = 1024

// EncryptedAspectSize returns the fixed encoded size of an
// EncryptedAspect slot for an aspect covering `blocks` blocks: the
// plaintext aspect is a length-prefixed 32-byte data key (8+32), a
// big-endian root block (4), and a length-prefixed packed block map
// (8+ceil(blocks/8)), which AES-256-CBC/PKCS#7 rounds up to the next
// 16-byte multiple; the envelope adds the 32-byte wrap key plus an
// 8-byte ciphertext length prefix.
func EncryptedAspectSize(blocks uint32) int64 {
	plainLen := 8 + pcrypto.KeySize + 4 + 8 + blockMapBytes(blocks)
	cipherLen := pcrypto.EncryptedLen(plainLen)
	return int64(pcrypto.KeySize) + 8 + int64(cipherLen)
}

func blockMapBytes(blocks uint32) int {
	return int((blocks + 7) / 8)
}

// GlobalBitmapOffset is the offset of the plaintext global block-usage
// summary: one bit per block, set whenever any aspect allocates that
// block, regardless of which aspect did the allocating. It exists so a
// mount can tell a free block from a used one without decrypting every
// other aspect's bitmap, which would otherwise require every aspect to
// share the mount password (see internal/pinoqfs). The summary reveals
// that a block is in use, never which aspect owns it.
const GlobalBitmapOffset = codec.SuperBlockSize

// GlobalBitmapBytes returns the packed size of the global usage
// summary for a volume with this many blocks.
func GlobalBitmapBytes(blocks uint32) int64 {
	return int64(blockMapBytes(blocks))
}

// AspectOffset returns the byte offset of aspect slot n.
func AspectOffset(blocks uint32, n uint32) int64 {
	return GlobalBitmapOffset + GlobalBitmapBytes(blocks) + int64(n)*EncryptedAspectSize(blocks)
}

// BlockOffset returns the byte offset of data block n.
func BlockOffset(aspects, blocks, n uint32) int64 {
	return GlobalBitmapOffset + GlobalBitmapBytes(blocks) + int64(aspects)*EncryptedAspectSize(blocks) + int64(n)*BlockSize
}

// VolumeLength returns the total size, in bytes, a volume with this
// geometry must be pre-sized to.
func VolumeLength(aspects, blocks uint32) int64 {
	return BlockOffset(aspects, blocks, blocks)
}
