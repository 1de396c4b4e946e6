// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import (
	"bytes"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// mmapReaderAt adapts an mmap.MMap to io.ReaderAt, the form ParseReader
// consumes, so the memory-mapped convenience path in Open shares its parse
// logic with any other io.ReaderAt source (§ external interfaces).
type mmapReaderAt struct {
	m mmap.MMap
}

func (r mmapReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(r.m)) {
		return 0, io.EOF
	}
	n := copy(p, r.m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Open memory-maps the file at path and parses it, the convenience entry
// point for CLI-style tools that operate on a path rather than an
// already-open stream (§ external interfaces). The returned Image must be
// closed with Image.Close to unmap the file.
func Open(path string, opts *ReadOptions) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.Size() == 0 {
		f.Close()
		return nil, ErrTruncatedStream
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	img, err := ParseReader(mmapReaderAt{m: m}, int64(len(m)), opts)
	if err != nil {
		m.Unmap()
		f.Close()
		return nil, err
	}
	img.closer = closerFunc(func() error {
		unmapErr := m.Unmap()
		closeErr := f.Close()
		if unmapErr != nil {
			return unmapErr
		}
		return closeErr
	})
	return img, nil
}

// ParseBytes is the in-memory-buffer counterpart of ParseReader, convenient
// for tests and for callers that already hold the whole image in memory.
func ParseBytes(data []byte, opts *ReadOptions) (*Image, error) {
	return ParseReader(bytes.NewReader(data), int64(len(data)), opts)
}

// Close releases resources held by an Image opened through Open. It is a
// no-op for images built through ParseReader/ParseBytes.
func (img *Image) Close() error {
	if img.closer == nil {
		return nil
	}
	return img.closer.Close()
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
