// Package volume owns the on-disk container's lifecycle: creating a
// fresh, pre-sized volume (mkfs), reading its plaintext header without
// mounting it (inspect), and assembling a mounted filesystem from a
// path, an aspect index, and a password (mount). It also implements
// the memory-mapped backing store the block store and aspect engine
// read and write through.
package volume

import (
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Volume is a memory-mapped pinoq backing file. It implements
// blockstore.ReaderWriterAt directly against the mapped pages, so
// writes are visible to subsequent reads immediately and durability
// follows the OS's writeback policy; no flushing happens other than
// an explicit Sync.
type Volume struct {
	file *os.File
	data []byte
}

// Open maps the file at path, which must already be sized to length
// bytes (mkfs does this once, up front; the volume is never resized).
func Open(path string, length int64) (*Volume, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, xerrors.Errorf("volume: opening %s: %w", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("volume: mmap %s (%d bytes): %w", path, length, err)
	}
	return &Volume{file: f, data: data}, nil
}

// ReadAt copies len(p) bytes starting at off from the mapped volume.
func (v *Volume) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(v.data)) {
		return 0, xerrors.Errorf("volume: read offset %d out of range (len %d)", off, len(v.data))
	}
	return copy(p, v.data[off:]), nil
}

// WriteAt copies p into the mapped volume starting at off.
func (v *Volume) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(v.data)) {
		return 0, xerrors.Errorf("volume: write offset %d+%d out of range (len %d)", off, len(p), len(v.data))
	}
	return copy(v.data[off:], p), nil
}

// Sync flushes modified pages to the backing file.
func (v *Volume) Sync() error {
	if err := unix.Msync(v.data, unix.MS_SYNC); err != nil {
		return xerrors.Errorf("volume: msync: %w", err)
	}
	return nil
}

// Close unmaps the volume and closes its file handle. Registered with
// pinoq.RegisterAtExit by cmd/pinoq so unmount releases the mapping
// deterministically.
func (v *Volume) Close() error {
	merr := unix.Munmap(v.data)
	cerr := v.file.Close()
	if merr != nil {
		return xerrors.Errorf("volume: munmap: %w", merr)
	}
	if cerr != nil {
		return xerrors.Errorf("volume: closing file: %w", cerr)
	}
	return nil
}
