package volume

import (
	"os"

	"golang.org/x/xerrors"

	"github.com/pinoq/pinoq/internal/aspect"
	"github.com/pinoq/pinoq/internal/codec"
	"github.com/pinoq/pinoq/internal/layout"
)

// Mkfs creates a fresh volume at path: a file sized exactly to
// volume_length(aspects, blocks), a superblock stamped with the
// current process's uid/gid, and `aspects` freshly generated, empty
// Aspect records each sealed under password.
//
// path must not already exist; mkfs never overwrites an existing
// volume.
func Mkfs(path string, aspectCount, blocks uint32, password string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return xerrors.Errorf("volume: creating %s: %w", path, err)
	}
	defer f.Close()

	length := layout.VolumeLength(aspectCount, blocks)
	if err := f.Truncate(length); err != nil {
		return xerrors.Errorf("volume: sizing %s to %d bytes: %w", path, length, err)
	}

	sb := codec.SuperBlock{
		Magic:   codec.Magic,
		Aspects: aspectCount,
		Blocks:  blocks,
		UID:     uint32(os.Getuid()),
		GID:     uint32(os.Getgid()),
	}
	if err := WriteSuperBlock(f, sb); err != nil {
		return err
	}

	for i := uint32(0); i < aspectCount; i++ {
		a, err := aspect.New(blocks)
		if err != nil {
			return xerrors.Errorf("volume: generating aspect %d: %w", i, err)
		}
		envelope, err := aspect.Seal(a, blocks, password)
		if err != nil {
			return xerrors.Errorf("volume: sealing aspect %d: %w", i, err)
		}
		if _, err := f.WriteAt(envelope.Encode(), layout.AspectOffset(blocks, i)); err != nil {
			return xerrors.Errorf("volume: writing aspect %d: %w", i, err)
		}
	}
	return nil
}
