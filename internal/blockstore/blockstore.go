// Package blockstore reads and writes encrypted, typed blocks at a
// block index, using the current aspect's data key and the block
// index itself as the IV seed. Binding the IV to the index is what
// makes swapping two ciphertext blocks detectable: the decoder will
// decrypt the swapped block under the wrong IV and fail to decode it.
package blockstore

import (
	"encoding/binary"

	"golang.org/x/xerrors"

	"github.com/pinoq/pinoq/internal/codec"
	"github.com/pinoq/pinoq/internal/layout"
	"github.com/pinoq/pinoq/internal/pcrypto"
)

// ReaderWriterAt is the minimal interface the block store needs from
// the backing volume: positioned reads and writes, as a memory-mapped
// file provides.
type ReaderWriterAt interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// Store reads and writes encrypted blocks against a fixed (aspects,
// blocks) geometry.
type Store struct {
	rw      ReaderWriterAt
	aspects uint32
	blocks  uint32
}

// New returns a Store over rw with the given volume geometry.
func New(rw ReaderWriterAt, aspects, blocks uint32) *Store {
	return &Store{rw: rw, aspects: aspects, blocks: blocks}
}

func ivSeedForBlock(n uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return b[:]
}

// Encodable is anything the typed records in package codec implement:
// a value that flattens to its binary encoding.
type Encodable interface {
	Encode() []byte
}

// StoreINode encrypts and writes n at block index idx under key.
func (s *Store) StoreINode(idx uint32, key [pcrypto.KeySize]byte, n codec.INode) error {
	return s.store(idx, key, n)
}

// StoreDir encrypts and writes d at block index idx under key.
func (s *Store) StoreDir(idx uint32, key [pcrypto.KeySize]byte, d *codec.Dir) error {
	return s.store(idx, key, d)
}

// StoreBlock encrypts and writes b at block index idx under key.
func (s *Store) StoreBlock(idx uint32, key [pcrypto.KeySize]byte, b codec.Block) error {
	return s.store(idx, key, b)
}

func (s *Store) store(idx uint32, key [pcrypto.KeySize]byte, rec Encodable) error {
	plaintext := rec.Encode()
	iv := pcrypto.IVFrom(ivSeedForBlock(idx))
	ciphertext, err := pcrypto.Encrypt(plaintext, key, iv)
	if err != nil {
		return xerrors.Errorf("blockstore: encrypting block %d: %w", idx, err)
	}

	w := codec.NewWriter()
	w.Uint64(uint64(len(ciphertext)))
	w.Raw(ciphertext)
	framed := w.Encoded()

	// A record that doesn't fit is a programmer error (oversize
	// directory or data chunk), not a runtime condition to recover
	// from: it would silently corrupt the next block on disk.
	if len(framed) > layout.BlockSize {
		panic(xerrors.Errorf("blockstore: encoded block %d is %d bytes, exceeds the %d-byte block size", idx, len(framed), layout.BlockSize))
	}

	offset := layout.BlockOffset(s.aspects, s.blocks, idx)
	if _, err := s.rw.WriteAt(framed, offset); err != nil {
		return xerrors.Errorf("blockstore: writing block %d: %w", idx, err)
	}
	return nil
}

// LoadINode reads and decrypts the inode at block index idx.
func (s *Store) LoadINode(idx uint32, key [pcrypto.KeySize]byte) (codec.INode, error) {
	plaintext, err := s.load(idx, key)
	if err != nil {
		return codec.INode{}, err
	}
	n, err := codec.DecodeINode(plaintext)
	if err != nil {
		return codec.INode{}, xerrors.Errorf("blockstore: decoding inode at block %d: %w", idx, err)
	}
	return n, nil
}

// LoadDir reads and decrypts the directory at block index idx.
func (s *Store) LoadDir(idx uint32, key [pcrypto.KeySize]byte) (*codec.Dir, error) {
	plaintext, err := s.load(idx, key)
	if err != nil {
		return nil, err
	}
	d, err := codec.DecodeDir(plaintext)
	if err != nil {
		return nil, xerrors.Errorf("blockstore: decoding directory at block %d: %w", idx, err)
	}
	return d, nil
}

// LoadBlock reads and decrypts the data block at block index idx.
func (s *Store) LoadBlock(idx uint32, key [pcrypto.KeySize]byte) (codec.Block, error) {
	plaintext, err := s.load(idx, key)
	if err != nil {
		return codec.Block{}, err
	}
	b, err := codec.DecodeBlock(plaintext)
	if err != nil {
		return codec.Block{}, xerrors.Errorf("blockstore: decoding data block at block %d: %w", idx, err)
	}
	return b, nil
}

func (s *Store) load(idx uint32, key [pcrypto.KeySize]byte) ([]byte, error) {
	offset := layout.BlockOffset(s.aspects, s.blocks, idx)
	raw := make([]byte, layout.BlockSize)
	if _, err := s.rw.ReadAt(raw, offset); err != nil {
		return nil, xerrors.Errorf("blockstore: reading block %d: %w", idx, err)
	}

	r := codec.NewReader(raw)
	n, err := r.Uint64()
	if err != nil {
		return nil, xerrors.Errorf("blockstore: reading block %d length prefix: %w", idx, err)
	}
	if n > uint64(layout.BlockSize) {
		return nil, xerrors.Errorf("blockstore: block %d claims ciphertext length %d, exceeds the block size", idx, n)
	}
	ciphertext, err := r.Raw(int(n))
	if err != nil {
		return nil, xerrors.Errorf("blockstore: reading block %d ciphertext: %w", idx, err)
	}

	iv := pcrypto.IVFrom(ivSeedForBlock(idx))
	plaintext, err := pcrypto.Decrypt(ciphertext, key, iv)
	if err != nil {
		return nil, xerrors.Errorf("blockstore: decrypting block %d (wrong aspect key, or corruption): %w", idx, err)
	}
	return plaintext, nil
}
