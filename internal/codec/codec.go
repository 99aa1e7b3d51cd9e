// Package codec implements the length-prefixed binary encoding used
// for every on-disk pinoq record: fixed-width little-endian integers
// for scalar fields, and a uint64 length prefix ahead of every byte
// string or sequence. The framing is built by hand on encoding/binary
// rather than a general-purpose serialization library: the record set
// is small and fixed, and every record needs exact control over its
// wire size (blocks must fit in their slot after encryption).
package codec

import (
	"bytes"
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

// Writer accumulates a little-endian, length-prefixed encoding.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Uint32 appends v as 4 little-endian bytes.
func (w *Writer) Uint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// Uint64 appends v as 8 little-endian bytes.
func (w *Writer) Uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// Raw appends b verbatim, with no length prefix. Use only for
// fixed-size fields whose length is implied by the record's layout.
func (w *Writer) Raw(b []byte) {
	w.buf.Write(b)
}

// Bytes appends a uint64 length prefix followed by b.
func (w *Writer) Bytes(b []byte) {
	w.Uint64(uint64(len(b)))
	w.buf.Write(b)
}

// String appends s as a length-prefixed byte string.
func (w *Writer) String(s string) {
	w.Bytes([]byte(s))
}

// Encoded returns the accumulated bytes.
func (w *Writer) Encoded() []byte {
	return w.buf.Bytes()
}

// Reader consumes a little-endian, length-prefixed encoding produced
// by Writer. Any short read is reported as a decode error rather than
// panicking, since a Reader will commonly be fed corrupt or
// wrong-key-decrypted plaintext.
type Reader struct {
	r *bytes.Reader
}

// NewReader wraps b for sequential decoding.
func NewReader(b []byte) *Reader {
	return &Reader{r: bytes.NewReader(b)}
}

// Uint32 reads 4 little-endian bytes.
func (r *Reader) Uint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, xerrors.Errorf("codec: reading uint32: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// Uint64 reads 8 little-endian bytes.
func (r *Reader) Uint64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, xerrors.Errorf("codec: reading uint64: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// Raw reads exactly n bytes verbatim.
func (r *Reader) Raw(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, xerrors.Errorf("codec: reading %d raw bytes: %w", n, err)
	}
	return b, nil
}

// Bytes reads a uint64-length-prefixed byte string.
func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Uint64()
	if err != nil {
		return nil, xerrors.Errorf("codec: reading byte-string length: %w", err)
	}
	// A decode failure (wrong key, corruption) can produce an
	// arbitrarily large garbage length; refuse anything that could
	// not possibly fit in what remains rather than OOMing on make().
	if n > uint64(r.r.Len()) {
		return nil, xerrors.Errorf("codec: byte-string length %d exceeds remaining input", n)
	}
	return r.Raw(int(n))
}

// String reads a length-prefixed byte string and returns it as a
// string.
func (r *Reader) String() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Remaining reports how many bytes are left unread.
func (r *Reader) Remaining() int {
	return r.r.Len()
}
