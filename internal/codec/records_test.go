package codec

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSuperBlockRoundTrip(t *testing.T) {
	sb := SuperBlock{Magic: Magic, Aspects: 4, Blocks: 1024, UID: 1000, GID: 1000}
	got, err := DecodeSuperBlock(sb.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(sb, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if len(sb.Encode()) != SuperBlockSize {
		t.Errorf("encoded size = %d, want %d", len(sb.Encode()), SuperBlockSize)
	}
}

func TestINodeRoundTrip(t *testing.T) {
	n := INode{Mode: ModeReg, Size: 1024, BlockSize: 1024, UID: 501, GID: 20, DataBlock: 7}
	got, err := DecodeINode(n.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(n, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestINodeIsDir(t *testing.T) {
	if !(INode{Mode: ModeDir}).IsDir() {
		t.Error("S_IFDIR inode should report IsDir")
	}
	if (INode{Mode: ModeReg}).IsDir() {
		t.Error("S_IFREG inode should not report IsDir")
	}
}

func TestDirRoundTrip(t *testing.T) {
	d := NewDir()
	d.Entries["hello"] = 3
	d.Entries["alpha"] = 9
	d.Entries["zeta"] = 2

	got, err := DecodeDir(d.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(d.Entries, got.Entries); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDirEncodeIsDeterministic(t *testing.T) {
	d1 := NewDir()
	d1.Entries["b"] = 1
	d1.Entries["a"] = 2
	d1.Entries["c"] = 3

	d2 := NewDir()
	d2.Entries["c"] = 3
	d2.Entries["a"] = 2
	d2.Entries["b"] = 1

	if string(d1.Encode()) != string(d2.Encode()) {
		t.Error("two directories with the same entries inserted in different orders should encode identically")
	}
}

func TestBlockRoundTrip(t *testing.T) {
	b := Block{NextBlock: 42, Data: []byte("some payload bytes")}
	got, err := DecodeBlock(b.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(b, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestBlockSentinelNextBlock(t *testing.T) {
	b := Block{NextBlock: Sentinel, Data: nil}
	got, err := DecodeBlock(b.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got.NextBlock != Sentinel {
		t.Errorf("NextBlock = %#x, want sentinel %#x", got.NextBlock, Sentinel)
	}
}

func TestEncryptedAspectRoundTrip(t *testing.T) {
	e := EncryptedAspect{Ciphertext: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	for i := range e.WrapKey {
		e.WrapKey[i] = byte(i)
	}
	got, err := DecodeEncryptedAspect(e.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(e, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeBytesRejectsOversizeLength(t *testing.T) {
	w := NewWriter()
	w.Uint64(1 << 40) // a garbage length that could never fit
	if _, err := NewReader(w.Encoded()).Bytes(); err == nil {
		t.Error("expected an error decoding a byte string whose claimed length exceeds the input")
	}
}
