package volume

import (
	"golang.org/x/xerrors"

	"github.com/pinoq/pinoq/internal/blockstore"
	"github.com/pinoq/pinoq/internal/codec"
)

// ReadSuperBlock reads and validates the plaintext header at the start
// of rw. A magic mismatch is a fatal mount/inspect failure.
func ReadSuperBlock(rw blockstore.ReaderWriterAt) (codec.SuperBlock, error) {
	buf := make([]byte, codec.SuperBlockSize)
	if _, err := rw.ReadAt(buf, 0); err != nil {
		return codec.SuperBlock{}, xerrors.Errorf("volume: reading superblock: %w", err)
	}
	sb, err := codec.DecodeSuperBlock(buf)
	if err != nil {
		return sb, xerrors.Errorf("volume: decoding superblock: %w", err)
	}
	if sb.Magic != codec.Magic {
		return sb, xerrors.Errorf("volume: bad magic %#08x, not a pinoq volume", sb.Magic)
	}
	return sb, nil
}

// WriteSuperBlock writes sb at the start of rw.
func WriteSuperBlock(rw blockstore.ReaderWriterAt, sb codec.SuperBlock) error {
	if _, err := rw.WriteAt(sb.Encode(), 0); err != nil {
		return xerrors.Errorf("volume: writing superblock: %w", err)
	}
	return nil
}
