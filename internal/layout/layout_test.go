package layout

import (
	"testing"

	"github.com/pinoq/pinoq/internal/codec"
)

func TestAspectOffsetZeroIsAfterGlobalBitmap(t *testing.T) {
	const blocks = 512
	want := int64(codec.SuperBlockSize) + GlobalBitmapBytes(blocks)
	if got := AspectOffset(blocks, 0); got != want {
		t.Errorf("AspectOffset(%d, 0) = %d, want %d", blocks, got, want)
	}
}

func TestAspectOffsetStride(t *testing.T) {
	const blocks = 512
	stride := EncryptedAspectSize(blocks)
	for n := uint32(0); n < 4; n++ {
		if got, want := AspectOffset(blocks, n+1)-AspectOffset(blocks, n), stride; got != want {
			t.Errorf("AspectOffset(%d,%d)-AspectOffset(%d,%d) = %d, want %d", blocks, n+1, blocks, n, got, want)
		}
	}
}

func TestBlockOffsetStride(t *testing.T) {
	const aspects, blocks = 2, 512
	for n := uint32(0); n < 8; n++ {
		if got, want := BlockOffset(aspects, blocks, n+1)-BlockOffset(aspects, blocks, n), int64(BlockSize); got != want {
			t.Errorf("BlockOffset stride = %d, want %d", got, want)
		}
	}
}

func TestVolumeLengthMatchesLastBlockOffset(t *testing.T) {
	const aspects, blocks = 2, 512
	if got, want := VolumeLength(aspects, blocks), BlockOffset(aspects, blocks, blocks); got != want {
		t.Errorf("VolumeLength = %d, want %d", got, want)
	}
}

func TestEncryptedAspectSizeIsDeterministic(t *testing.T) {
	if EncryptedAspectSize(512) != EncryptedAspectSize(512) {
		t.Error("EncryptedAspectSize should be a pure function of blocks")
	}
	// A much larger block map should need a larger encrypted slot.
	if EncryptedAspectSize(8) >= EncryptedAspectSize(4096) {
		t.Error("a larger block map should encode to a strictly larger aspect slot")
	}
}
