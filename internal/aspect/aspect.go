// Package aspect implements the aspect engine: the plaintext Aspect
// record (data key, root block pointer, per-aspect block bitmap) and
// its envelope encryption (seal/open) against the EncryptedAspect slot
// on disk. Sealing always regenerates the wrap key so that repeated
// saves of the same aspect never produce identical ciphertext — the
// one piece of traffic-analysis resistance this design affords.
package aspect

import (
	"github.com/bits-and-blooms/bitset"
	"golang.org/x/xerrors"

	"github.com/pinoq/pinoq/internal/codec"
	"github.com/pinoq/pinoq/internal/pcrypto"
)

// NoRootBlock is the sentinel RootBlock value meaning "this aspect has
// no root directory yet".
const NoRootBlock = codec.Sentinel

// Aspect is the plaintext, in-memory form of an aspect: the data key
// used to encrypt every block this aspect owns, the block index of
// its root directory's inode, and the bitmap of blocks it owns.
type Aspect struct {
	DataKey   [pcrypto.KeySize]byte
	RootBlock uint32
	BlockMap  *bitset.BitSet
}

// New returns a fresh, uninitialized aspect covering the given number
// of blocks: a random data key, no root block, and an empty bitmap.
func New(blocks uint32) (*Aspect, error) {
	key, err := pcrypto.RandomKey()
	if err != nil {
		return nil, xerrors.Errorf("aspect: generating data key: %w", err)
	}
	return &Aspect{
		DataKey:   key,
		RootBlock: NoRootBlock,
		BlockMap:  bitset.New(uint(blocks)),
	}, nil
}

// HasRoot reports whether the aspect has a bootstrapped root
// directory.
func (a *Aspect) HasRoot() bool {
	return a.RootBlock != NoRootBlock
}

// plaintext encodes the aspect record for sealing: a length-prefixed
// data key, the root block as a big-endian u32, and the
// length-prefixed packed block map. The leading length prefix is what
// makes a wrong password detectable at all: CBC decryption with the
// wrong IV garbles exactly the first cipher block of plaintext, so the
// prefix lands in the garbled region and fails to decode, while the
// rest of the record (including the padding) would decrypt cleanly.
func (a *Aspect) plaintext(blocks uint32) []byte {
	w := codec.NewWriter()
	w.Bytes(a.DataKey[:])
	var rb [4]byte
	rb[0] = byte(a.RootBlock >> 24)
	rb[1] = byte(a.RootBlock >> 16)
	rb[2] = byte(a.RootBlock >> 8)
	rb[3] = byte(a.RootBlock)
	w.Raw(rb[:])
	w.Bytes(packBlockMap(a.BlockMap, blocks))
	return w.Encoded()
}

// packBlockMap packs the first `blocks` bits of bm into
// ceil(blocks/8) bytes, bit i at byte i/8, bit i%8, little-endian
// within each byte (bit 0 is the LSB).
func packBlockMap(bm *bitset.BitSet, blocks uint32) []byte {
	out := make([]byte, (blocks+7)/8)
	for i := uint32(0); i < blocks; i++ {
		if bm.Test(uint(i)) {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

func unpackBlockMap(b []byte, blocks uint32) *bitset.BitSet {
	bm := bitset.New(uint(blocks))
	for i := uint32(0); i < blocks; i++ {
		if b[i/8]&(1<<(i%8)) != 0 {
			bm.Set(uint(i))
		}
	}
	return bm
}

// Seal encrypts a's plaintext record under a fresh wrap key, with the
// IV derived from password, and returns the on-disk envelope.
func Seal(a *Aspect, blocks uint32, password string) (codec.EncryptedAspect, error) {
	wrapKey, err := pcrypto.RandomKey()
	if err != nil {
		return codec.EncryptedAspect{}, xerrors.Errorf("aspect: generating wrap key: %w", err)
	}
	iv := pcrypto.IVFrom([]byte(password))
	ciphertext, err := pcrypto.Encrypt(a.plaintext(blocks), wrapKey, iv)
	if err != nil {
		return codec.EncryptedAspect{}, xerrors.Errorf("aspect: sealing: %w", err)
	}
	return codec.EncryptedAspect{WrapKey: wrapKey, Ciphertext: ciphertext}, nil
}

// Open decrypts an EncryptedAspect envelope with the supplied
// password and returns the plaintext aspect. A decrypted block map
// whose length doesn't match `blocks`, or a RootBlock that isn't the
// sentinel and isn't a valid index into the bitmap, is treated as a
// wrong password and reported as a decode error — never silently
// accepted as empty.
func Open(e codec.EncryptedAspect, blocks uint32, password string) (*Aspect, error) {
	iv := pcrypto.IVFrom([]byte(password))
	plaintext, err := pcrypto.Decrypt(e.Ciphertext, e.WrapKey, iv)
	if err != nil {
		return nil, xerrors.Errorf("aspect: decoding (wrong password?): %w", err)
	}

	r := codec.NewReader(plaintext)
	key, err := r.Bytes()
	if err != nil {
		return nil, xerrors.Errorf("aspect: decoding data key (wrong password?): %w", err)
	}
	if len(key) != pcrypto.KeySize {
		return nil, xerrors.Errorf("aspect: data key is %d bytes, want %d (wrong password?)", len(key), pcrypto.KeySize)
	}
	rb, err := r.Raw(4)
	if err != nil {
		return nil, xerrors.Errorf("aspect: decoding root block (wrong password?): %w", err)
	}
	bm, err := r.Bytes()
	if err != nil {
		return nil, xerrors.Errorf("aspect: decoding block map (wrong password?): %w", err)
	}
	if len(bm) != int((blocks+7)/8) {
		return nil, xerrors.Errorf("aspect: block map is %d bytes, want %d for %d blocks (wrong password?)", len(bm), (blocks+7)/8, blocks)
	}
	if r.Remaining() != 0 {
		return nil, xerrors.Errorf("aspect: %d trailing bytes after block map (wrong password?)", r.Remaining())
	}

	var a Aspect
	copy(a.DataKey[:], key)
	a.RootBlock = uint32(rb[0])<<24 | uint32(rb[1])<<16 | uint32(rb[2])<<8 | uint32(rb[3])
	if a.RootBlock != NoRootBlock && a.RootBlock >= blocks {
		return nil, xerrors.Errorf("aspect: root block %d out of range for %d blocks (wrong password?)", a.RootBlock, blocks)
	}
	a.BlockMap = unpackBlockMap(bm, blocks)
	return &a, nil
}
