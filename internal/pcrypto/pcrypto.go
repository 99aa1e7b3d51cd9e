// Package pcrypto implements pinoq's block- and envelope-level
// encryption: AES-256-CBC with PKCS#7 padding, a cryptographically
// random key generator, and the weak-by-design IV derivation the
// on-disk format depends on (see package doc on IVFrom).
//
// The IV scheme here is deliberately not a recommendation: it copies
// caller-supplied seed bytes (a password, or a big-endian block index)
// into a zeroed 16-byte buffer rather than deriving anything
// cryptographically, in the same way legacy qcow2 AES encryption did —
// and with the same known weaknesses.
package pcrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"golang.org/x/xerrors"
)

const (
	// KeySize is the size, in bytes, of every data key and wrap key.
	KeySize = 32
	// IVSize is the AES block size and the size of every derived IV.
	IVSize = aes.BlockSize
)

// RandomKey returns a cryptographically random 32-byte key.
func RandomKey() ([KeySize]byte, error) {
	var k [KeySize]byte
	if _, err := rand.Read(k[:]); err != nil {
		return k, xerrors.Errorf("pcrypto: generating random key: %w", err)
	}
	return k, nil
}

// IVFrom derives a 16-byte IV by copying min(len(seed), 16) bytes of
// seed into a zeroed buffer. It intentionally does not hash or
// stretch the seed: a password-derived IV is reused verbatim across
// every seal of that aspect (the wrap key is what is expected to
// change, per the aspect engine's rotation rule), and a block-index
// IV is therefore predictable by anyone who knows the index.
func IVFrom(seed []byte) [IVSize]byte {
	var iv [IVSize]byte
	n := len(seed)
	if n > IVSize {
		n = IVSize
	}
	copy(iv[:], seed[:n])
	return iv
}

// Encrypt returns the AES-256-CBC encryption of plaintext under key
// and iv, with PKCS#7 padding. len(Encrypt(p)) == ceil((len(p)+1)/16)*16.
func Encrypt(plaintext []byte, key [KeySize]byte, iv [IVSize]byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, xerrors.Errorf("pcrypto: creating AES cipher: %w", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv[:])
	mode.CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

// Decrypt is the inverse of Encrypt. A ciphertext that is not a
// multiple of the AES block size, or whose padding does not validate
// (almost certain with the wrong key), is reported as an error rather
// than silently truncated or ignored.
func Decrypt(ciphertext []byte, key [KeySize]byte, iv [IVSize]byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, xerrors.Errorf("pcrypto: creating AES cipher: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, xerrors.Errorf("pcrypto: ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}
	padded := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv[:])
	mode.CryptBlocks(padded, ciphertext)
	return pkcs7Unpad(padded)
}

// EncryptedLen returns the ciphertext length AES-256-CBC with PKCS#7
// padding produces for a plaintext of n bytes.
func EncryptedLen(n int) int {
	return ((n + aes.BlockSize) / aes.BlockSize) * aes.BlockSize
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+pad)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(pad)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, xerrors.New("pcrypto: cannot unpad empty data")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > len(data) || pad > aes.BlockSize {
		return nil, xerrors.New("pcrypto: invalid PKCS#7 padding")
	}
	if !bytes.Equal(data[len(data)-pad:], bytes.Repeat([]byte{byte(pad)}, pad)) {
		return nil, xerrors.New("pcrypto: invalid PKCS#7 padding")
	}
	return data[:len(data)-pad], nil
}
