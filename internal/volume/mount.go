package volume

import (
	"golang.org/x/xerrors"

	"github.com/pinoq/pinoq/internal/aspect"
	"github.com/pinoq/pinoq/internal/blockstore"
	"github.com/pinoq/pinoq/internal/codec"
	"github.com/pinoq/pinoq/internal/layout"
	"github.com/pinoq/pinoq/internal/pinoqfs"
)

// Mounted bundles everything a mount needs kept alive: the mapped
// volume (for Close/Sync), and the filesystem the bridge drives.
type Mounted struct {
	Volume *Volume
	FS     *pinoqfs.FS
}

// Close releases the mapped volume. The filesystem itself holds no
// resources beyond what the volume owns.
func (m *Mounted) Close() error {
	return m.Volume.Close()
}

// Mount opens the volume at path, parses its superblock, opens aspect
// aspectIndex with password, constructs the global free-block usage
// summary, bootstraps the aspect's root directory if needed, and
// returns a ready-to-serve filesystem.
func Mount(path string, aspectIndex uint32, password string) (*Mounted, error) {
	sb, err := Inspect(path)
	if err != nil {
		return nil, err
	}
	if aspectIndex >= sb.Aspects {
		return nil, xerrors.Errorf("volume: aspect %d out of range for %d aspects", aspectIndex, sb.Aspects)
	}

	vol, err := Open(path, layout.VolumeLength(sb.Aspects, sb.Blocks))
	if err != nil {
		return nil, err
	}

	envelopeBuf := make([]byte, layout.EncryptedAspectSize(sb.Blocks))
	if _, err := vol.ReadAt(envelopeBuf, layout.AspectOffset(sb.Blocks, aspectIndex)); err != nil {
		vol.Close()
		return nil, xerrors.Errorf("volume: reading aspect %d envelope: %w", aspectIndex, err)
	}
	envelope, err := codec.DecodeEncryptedAspect(envelopeBuf)
	if err != nil {
		vol.Close()
		return nil, xerrors.Errorf("volume: decoding aspect %d envelope: %w", aspectIndex, err)
	}
	current, err := aspect.Open(envelope, sb.Blocks, password)
	if err != nil {
		vol.Close()
		return nil, xerrors.Errorf("volume: opening aspect %d: %w", aspectIndex, err)
	}

	usage, err := LoadGlobalUsage(vol, sb.Blocks)
	if err != nil {
		vol.Close()
		return nil, err
	}

	store := blockstore.New(vol, sb.Aspects, sb.Blocks)
	seal := func(a *aspect.Aspect) error {
		envelope, err := aspect.Seal(a, sb.Blocks, password)
		if err != nil {
			return xerrors.Errorf("volume: sealing aspect %d: %w", aspectIndex, err)
		}
		if _, err := vol.WriteAt(envelope.Encode(), layout.AspectOffset(sb.Blocks, aspectIndex)); err != nil {
			return xerrors.Errorf("volume: persisting aspect %d: %w", aspectIndex, err)
		}
		return nil
	}

	fs := pinoqfs.New(store, usage, current, sb.UID, sb.GID, seal)
	if err := fs.EnsureRoot(); err != nil {
		vol.Close()
		return nil, err
	}

	return &Mounted{Volume: vol, FS: fs}, nil
}
