// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import "io"

// Checksum computes the PE image checksum over the image's in-memory
// representation by re-emitting it and summing the result, equivalent to
// the Windows imagehlp CheckSumMappedFile algorithm (§4.10, C10): the file
// is summed as a stream of little-endian 16-bit words, with 32-bit carries
// folded back into the running sum, skipping the four bytes of the
// checksum field itself, then folded into 16 bits and added to the file
// length.
func (img *Image) Checksum() uint32 {
	var buf writeSeekBuffer
	if err := img.Write(&buf); err != nil {
		return 0
	}
	checksumFieldOffset := img.checksumFieldOffset()
	return computeChecksum(buf.data, checksumFieldOffset)
}

// computeChecksum implements the CheckSumMappedFile algorithm directly over
// a byte slice, skipping the checksum DWORD at skipOffset.
func computeChecksum(data []byte, skipOffset int64) uint32 {
	var sum uint64
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		if int64(i) == skipOffset || int64(i) == skipOffset+2 {
			continue
		}
		word := uint64(data[i]) | uint64(data[i+1])<<8
		sum += word
		if sum>>32 != 0 {
			sum = (sum & 0xffffffff) + (sum >> 32)
		}
	}
	if n%2 != 0 {
		sum += uint64(data[n-1])
		if sum>>32 != 0 {
			sum = (sum & 0xffffffff) + (sum >> 32)
		}
	}

	sum = (sum & 0xffff) + (sum >> 16)
	sum += sum >> 16
	sum &= 0xffff

	return uint32(sum) + uint32(n)
}

// checksumFieldOffset returns the absolute file offset of the optional
// header's CheckSum field, so Checksum can skip it. The
// field sits at the same offset (64) in both PE32 and PE32+ layouts.
func (img *Image) checksumFieldOffset() int64 {
	return img.optionalHeaderOffset + 64
}

// writeSeekBuffer is a minimal in-memory io.WriteSeeker, used internally by
// Checksum so it can re-run the emit path without requiring the caller to
// supply a seekable destination just to compute a checksum.
type writeSeekBuffer struct {
	data []byte
	pos  int64
}

func (b *writeSeekBuffer) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:end], p)
	b.pos = end
	return len(p), nil
}

func (b *writeSeekBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = b.pos + offset
	case io.SeekEnd:
		newPos = int64(len(b.data)) + offset
	}
	b.pos = newPos
	return newPos, nil
}
