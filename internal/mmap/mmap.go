// Package mmap maps read-only artifact files into memory.
package mmap

import (
	"fmt"
	"io"
	"os"
)

// File is a read-only memory-mapped file. Data stays valid until Close.
type File struct {
	Data  []byte
	f     *os.File
	unmap func([]byte) error
}

// Open maps the file at path. Empty files map to a nil Data slice.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return &File{f: f}, nil
	}
	if int64(int(size)) != size {
		f.Close()
		return nil, fmt.Errorf("mmap %s: size %d overflows int", path, size)
	}
	data, unmap, err := osMap(f, int(size))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &File{Data: data, f: f, unmap: unmap}, nil
}

// Len returns the mapped size.
func (m *File) Len() int {
	return len(m.Data)
}

// ReadAt implements io.ReaderAt.
func (m *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.Data)) {
		return 0, io.EOF
	}
	n := copy(p, m.Data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *File) Close() error {
	if m == nil {
		return nil
	}
	var err error
	if m.Data != nil && m.unmap != nil {
		err = m.unmap(m.Data)
	}
	m.Data = nil
	if m.f != nil {
		if cerr := m.f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		m.f = nil
	}
	return err
}
