package volume

import (
	"os"

	"golang.org/x/xerrors"

	"github.com/pinoq/pinoq/internal/codec"
)

// Inspect opens path read-only and returns its plaintext superblock,
// without mounting or decrypting any aspect.
func Inspect(path string) (codec.SuperBlock, error) {
	f, err := os.Open(path)
	if err != nil {
		return codec.SuperBlock{}, xerrors.Errorf("volume: opening %s: %w", path, err)
	}
	defer f.Close()
	return ReadSuperBlock(f)
}
