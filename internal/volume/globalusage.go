package volume

import (
	"github.com/bits-and-blooms/bitset"
	"golang.org/x/xerrors"

	"github.com/pinoq/pinoq/internal/blockstore"
	"github.com/pinoq/pinoq/internal/layout"
)

// GlobalUsage is the plaintext, per-volume summary of which blocks are
// in use by some aspect, regardless of which one. Mounting aspect i
// only ever decrypts aspect i's own envelope; it learns "is block n
// free" from this summary instead of decrypting every other aspect's
// block_map, which would otherwise require every aspect to share the
// mount's password.
//
// The summary never reveals which aspect owns a block, only that some
// aspect does; observing it does not distinguish a real aspect's
// blocks from a decoy's.
type GlobalUsage struct {
	rw     blockstore.ReaderWriterAt
	blocks uint32
	bm     *bitset.BitSet
}

// LoadGlobalUsage reads the packed usage bitmap from rw.
func LoadGlobalUsage(rw blockstore.ReaderWriterAt, blocks uint32) (*GlobalUsage, error) {
	raw := make([]byte, layout.GlobalBitmapBytes(blocks))
	if _, err := rw.ReadAt(raw, layout.GlobalBitmapOffset); err != nil {
		return nil, xerrors.Errorf("volume: reading global usage summary: %w", err)
	}
	bm := bitset.New(uint(blocks))
	for i := uint32(0); i < blocks; i++ {
		if raw[i/8]&(1<<(i%8)) != 0 {
			bm.Set(uint(i))
		}
	}
	return &GlobalUsage{rw: rw, blocks: blocks, bm: bm}, nil
}

// IsUsed reports whether block i is claimed by some aspect.
func (g *GlobalUsage) IsUsed(i uint32) bool {
	return g.bm.Test(uint(i))
}

// NextFree returns the lowest unused block index, or false if the
// volume has none left.
func (g *GlobalUsage) NextFree() (uint32, bool) {
	i, ok := g.bm.NextClear(0)
	if !ok || i >= uint(g.blocks) {
		return 0, false
	}
	return uint32(i), true
}

// Mark records block i as used and persists the single changed byte
// immediately, so a crash before the caller's next re-seal leaves the
// blocks marked since the last re-seal orphaned (used in the summary,
// owned by no aspect), never a collision with a block some other
// aspect also believes is free.
func (g *GlobalUsage) Mark(i uint32) error {
	g.bm.Set(uint(i))
	byteIdx := i / 8
	var b [1]byte
	base := byteIdx * 8
	for bit := base; bit < base+8 && bit < g.blocks; bit++ {
		if g.bm.Test(uint(bit)) {
			b[0] |= 1 << (bit % 8)
		}
	}
	if _, err := g.rw.WriteAt(b[:], layout.GlobalBitmapOffset+int64(byteIdx)); err != nil {
		return xerrors.Errorf("volume: persisting global usage bit %d: %w", i, err)
	}
	return nil
}
