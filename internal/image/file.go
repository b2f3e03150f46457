package image

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

var ErrEmptyImage = errors.New("image: empty file")

// File is a device image read from disk.
type File struct {
	Data    []byte
	mmapped bool
}

// Open maps an image file read-only. If mmap is unavailable, it falls back
// to reading the file. The returned file must be closed to release any
// mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 <= 0 {
		return nil, ErrEmptyImage
	}
	if size64 > int64(int(^uint(0)>>1)) {
		return nil, errors.New("image: file too large")
	}
	size := int(size64)

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		return &File{Data: data, mmapped: true}, nil
	}

	data = make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, err
	}
	return &File{Data: data}, nil
}

// Close releases the mapping. Data must not be used afterwards.
func (f *File) Close() error {
	if f == nil || f.Data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.Data)
	}
	f.Data = nil
	f.mmapped = false
	return err
}
