// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import (
	"bytes"
	"encoding/binary"
	"io"

	"golang.org/x/text/encoding/unicode"
)

// alignUp returns v rounded up to the next multiple of a. It returns v
// unchanged when a is zero or v is already aligned, per §4.1.
func alignUp(v, a uint32) uint32 {
	if a == 0 || v%a == 0 {
		return v
	}
	return v - v%a + a
}

// alignUp64 is the 64-bit-offset counterpart of alignUp, used by the layout
// engine and the certificate/overlay placement logic.
func alignUp64(v, a int64) int64 {
	if a == 0 || v%a == 0 {
		return v
	}
	return v - v%a + a
}

// codecReader is the byte codec primitive (C1): endian-aware, bounds-checked
// reads over a seekable random-access stream. It never advances an implicit
// cursor; every read is addressed by an explicit offset, matching the
// structUnpack/ReadUint* style of saferwall's helper.go.
type codecReader struct {
	ra   io.ReaderAt
	size int64
}

func newCodecReader(ra io.ReaderAt, size int64) *codecReader {
	return &codecReader{ra: ra, size: size}
}

// bytesAt reads exactly n bytes at off, failing with ErrTruncatedStream if
// that range runs past the end of the stream.
func (r *codecReader) bytesAt(off int64, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if off < 0 || n < 0 || off > r.size || int64(n) > r.size-off {
		return nil, ErrTruncatedStream
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(io.NewSectionReader(r.ra, off, int64(n)), buf); err != nil {
		return nil, ErrTruncatedStream
	}
	return buf, nil
}

func (r *codecReader) u8(off int64) (uint8, error) {
	b, err := r.bytesAt(off, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *codecReader) u16(off int64) (uint16, error) {
	b, err := r.bytesAt(off, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *codecReader) u16be(off int64) (uint16, error) {
	b, err := r.bytesAt(off, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *codecReader) u32(off int64) (uint32, error) {
	b, err := r.bytesAt(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *codecReader) u32be(off int64) (uint32, error) {
	b, err := r.bytesAt(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *codecReader) u64(off int64) (uint64, error) {
	b, err := r.bytesAt(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *codecReader) i16(off int64) (int16, error) {
	v, err := r.u16(off)
	return int16(v), err
}

// fixedASCII reads n bytes at off and trims at the first NUL, giving the
// fixed-length, NUL-padded ASCII fields used by section/symbol names.
func (r *codecReader) fixedASCII(off int64, n int) (string, error) {
	b, err := r.bytesAt(off, n)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b), nil
}

// cString reads a NUL-terminated ASCII string starting at off, never
// reading past maxLen bytes or the end of the stream.
func (r *codecReader) cString(off int64, maxLen int64) (string, error) {
	if off < 0 || off > r.size {
		return "", ErrRvaOutOfRange
	}
	limit := r.size - off
	if maxLen > 0 && maxLen < limit {
		limit = maxLen
	}
	var out bytes.Buffer
	for i := int64(0); i < limit; i++ {
		b, err := r.u8(off + i)
		if err != nil || b == 0 {
			break
		}
		out.WriteByte(b)
	}
	return out.String(), nil
}

// utf16CString reads a double-NUL-terminated UTF-16LE string starting at
// off, decoding through golang.org/x/text/encoding/unicode the same way
// saferwall's DecodeUTF16String does.
func (r *codecReader) utf16CString(off int64, maxLen int64) (string, error) {
	if off < 0 || off > r.size {
		return "", ErrRvaOutOfRange
	}
	limit := r.size - off
	if maxLen > 0 && maxLen < limit {
		limit = maxLen
	}
	var raw []byte
	for i := int64(0); i+1 < limit; i += 2 {
		b, err := r.bytesAt(off+i, 2)
		if err != nil {
			break
		}
		if b[0] == 0 && b[1] == 0 {
			break
		}
		raw = append(raw, b...)
	}
	if len(raw) == 0 {
		return "", nil
	}
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	s, err := decoder.Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(s), nil
}

// utf16LEDecode decodes a raw UTF-16LE byte slice (no terminator) through
// the same golang.org/x/text/encoding/unicode path utf16CString uses.
func utf16LEDecode(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	s, err := decoder.Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(s), nil
}

// codecWriter is the emit-side counterpart of codecReader: sequential,
// position-tracking writes over an io.WriteSeeker, with the ability to
// reposition (seekTo): writeSectionBodies seeks to each section's raw data,
// relocation and line-number offsets, and Write rewinds to patch the
// optional header's certificate-table directory entry after the
// certificate table has been placed (§4.7).
type codecWriter struct {
	w   io.WriteSeeker
	pos int64
}

func newCodecWriter(w io.WriteSeeker) *codecWriter {
	return &codecWriter{w: w}
}

func (w *codecWriter) write(b []byte) error {
	n, err := w.w.Write(b)
	w.pos += int64(n)
	return err
}

func (w *codecWriter) u8(v uint8) error { return w.write([]byte{v}) }

func (w *codecWriter) u16(v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return w.write(b[:])
}

func (w *codecWriter) u16be(v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return w.write(b[:])
}

func (w *codecWriter) u32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return w.write(b[:])
}

func (w *codecWriter) u32be(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return w.write(b[:])
}

func (w *codecWriter) u64(v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return w.write(b[:])
}

func (w *codecWriter) i16(v int16) error { return w.u16(uint16(v)) }

// fixedASCII writes s NUL-padded to exactly n bytes. It is the caller's
// responsibility to have validated len(s) <= n (see ErrBadSectionName).
func (w *codecWriter) fixedASCII(s string, n int) error {
	b := make([]byte, n)
	copy(b, s)
	return w.write(b)
}

// cString writes s followed by a single NUL terminator.
func (w *codecWriter) cString(s string) error {
	if err := w.write([]byte(s)); err != nil {
		return err
	}
	return w.u8(0)
}

// zeroPad writes n zero bytes.
func (w *codecWriter) zeroPad(n int) error {
	if n <= 0 {
		return nil
	}
	return w.write(make([]byte, n))
}

// padTo zero-pads until the current position is a multiple of align.
func (w *codecWriter) padTo(align uint32) error {
	target := alignUp64(w.pos, int64(align))
	return w.zeroPad(int(target - w.pos))
}

// seekTo repositions the writer for an out-of-order patch, returning to
// sequential writing afterwards is the caller's responsibility.
func (w *codecWriter) seekTo(off int64) error {
	if _, err := w.w.Seek(off, io.SeekStart); err != nil {
		return err
	}
	w.pos = off
	return nil
}
