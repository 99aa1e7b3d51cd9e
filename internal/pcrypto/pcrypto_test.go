package pcrypto

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := RandomKey()
	if err != nil {
		t.Fatal(err)
	}
	iv := IVFrom([]byte("a password"))

	for _, n := range []int{0, 1, 15, 16, 17, 1007, 1020} {
		data := bytes.Repeat([]byte{0x42}, n)
		ciphertext, err := Encrypt(data, key, iv)
		if err != nil {
			t.Fatalf("Encrypt(n=%d): %v", n, err)
		}
		got, err := Decrypt(ciphertext, key, iv)
		if err != nil {
			t.Fatalf("Decrypt(n=%d): %v", n, err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("round trip mismatch for n=%d", n)
		}
	}
}

func TestEncryptedLength(t *testing.T) {
	key, _ := RandomKey()
	iv := IVFrom([]byte("seed"))
	data := bytes.Repeat([]byte{0x01}, 1020)
	ciphertext, err := Encrypt(data, key, iv)
	if err != nil {
		t.Fatal(err)
	}
	if len(ciphertext) != 1024 {
		t.Errorf("len(Encrypt(1020 bytes)) = %d, want 1024", len(ciphertext))
	}
	if got, want := EncryptedLen(1020), 1024; got != want {
		t.Errorf("EncryptedLen(1020) = %d, want %d", got, want)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key, _ := RandomKey()
	wrongKey, _ := RandomKey()
	iv := IVFrom([]byte("seed"))

	ciphertext, err := Encrypt([]byte("some plaintext data"), key, iv)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(ciphertext, wrongKey, iv); err == nil {
		t.Error("decrypting with the wrong key unexpectedly succeeded (padding happened to validate)")
	}
}

func TestIVFromTruncatesAndZeroPads(t *testing.T) {
	iv := IVFrom([]byte("short"))
	if iv[0] != 's' || iv[4] != 't' {
		t.Error("IVFrom should copy the seed verbatim")
	}
	for i := 5; i < IVSize; i++ {
		if iv[i] != 0 {
			t.Errorf("IVFrom should zero-pad beyond the seed, byte %d = %d", i, iv[i])
		}
	}

	long := bytes.Repeat([]byte{0xAB}, 32)
	iv2 := IVFrom(long)
	if len(iv2) != IVSize {
		t.Fatalf("IVFrom result has wrong size %d", len(iv2))
	}
	for _, b := range iv2 {
		if b != 0xAB {
			t.Error("IVFrom should truncate an over-long seed rather than erroring")
		}
	}
}
