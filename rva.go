// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

// SectionForRVA returns the section whose virtual extent contains rva, or
// nil if no section claims it (§4.11, C11). When sections overlap — which a
// malformed or adversarial image can do even though well-formed linkers
// never produce it — the first match in section-table order wins, matching
// how the Windows loader resolves RVAs.
func (img *Image) SectionForRVA(rva uint32) *Section {
	for _, s := range img.Sections {
		if s.Contains(rva) {
			return s
		}
	}
	return nil
}

// RVAReader is a bounds-checked, section-relative typed reader over a
// Section's raw data (§4.11). It is handed out by Section.ReaderAt rather
// than constructed directly so that every read it performs is pre-validated
// against the owning section's extent.
type RVAReader struct {
	section *Section
	base    uint32 // RVA the reader was opened at
}

// ReaderAt returns an RVAReader positioned at rva, which must fall within
// s's virtual extent.
func (s *Section) ReaderAt(rva uint32) (*RVAReader, error) {
	if !s.Contains(rva) {
		return nil, ErrRvaOutOfRange
	}
	return &RVAReader{section: s, base: rva}, nil
}

// offsetAndBoundsCheck converts an absolute rva into a valid index range
// into r.section.Data, returning ErrRvaOutOfRange if the read would run
// past the section's initialized data (the implicit BSS zero-fill tail
// described in VirtualSize > SizeOfRawData is not addressable by these
// typed readers — callers needing it must read Data directly and treat a
// short read as zero).
func (r *RVAReader) offsetAndBoundsCheck(rva uint32, n int) (int, error) {
	if !r.section.Contains(rva) {
		return 0, ErrRvaOutOfRange
	}
	off := int(r.section.rvaToOffset(rva))
	if off < 0 || off+n > len(r.section.Data) {
		return 0, ErrRvaOutOfRange
	}
	return off, nil
}

// U8 reads a byte at rva.
func (r *RVAReader) U8(rva uint32) (uint8, error) {
	off, err := r.offsetAndBoundsCheck(rva, 1)
	if err != nil {
		return 0, err
	}
	return r.section.Data[off], nil
}

// U16 reads a little-endian uint16 at rva.
func (r *RVAReader) U16(rva uint32) (uint16, error) {
	off, err := r.offsetAndBoundsCheck(rva, 2)
	if err != nil {
		return 0, err
	}
	b := r.section.Data[off : off+2]
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

// U32 reads a little-endian uint32 at rva.
func (r *RVAReader) U32(rva uint32) (uint32, error) {
	off, err := r.offsetAndBoundsCheck(rva, 4)
	if err != nil {
		return 0, err
	}
	b := r.section.Data[off : off+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// U64 reads a little-endian uint64 at rva.
func (r *RVAReader) U64(rva uint32) (uint64, error) {
	off, err := r.offsetAndBoundsCheck(rva, 8)
	if err != nil {
		return 0, err
	}
	lo := uint64(r.section.Data[off]) | uint64(r.section.Data[off+1])<<8 |
		uint64(r.section.Data[off+2])<<16 | uint64(r.section.Data[off+3])<<24
	hi := uint64(r.section.Data[off+4]) | uint64(r.section.Data[off+5])<<8 |
		uint64(r.section.Data[off+6])<<16 | uint64(r.section.Data[off+7])<<24
	return lo | hi<<32, nil
}

// Bytes reads n raw bytes at rva.
func (r *RVAReader) Bytes(rva uint32, n int) ([]byte, error) {
	off, err := r.offsetAndBoundsCheck(rva, n)
	if err != nil {
		return nil, err
	}
	return r.section.Data[off : off+n], nil
}

// stringFromRVA reads a NUL-terminated ASCII string starting at rva,
// resolving rva against img's section table first (§4.11 string_from_rva).
func (img *Image) stringFromRVA(rva uint32) (string, error) {
	s := img.SectionForRVA(rva)
	if s == nil {
		return "", ErrRvaOutOfRange
	}
	off := int(s.rvaToOffset(rva))
	if off < 0 || off > len(s.Data) {
		return "", ErrRvaOutOfRange
	}
	end := off
	for end < len(s.Data) && s.Data[end] != 0 {
		end++
	}
	return string(s.Data[off:end]), nil
}

// utf16StringFromRVA is the UTF-16LE double-NUL-terminated counterpart of
// stringFromRVA. No directory parser in this package calls it.
func (img *Image) utf16StringFromRVA(rva uint32) (string, error) {
	s := img.SectionForRVA(rva)
	if s == nil {
		return "", ErrRvaOutOfRange
	}
	off := int(s.rvaToOffset(rva))
	if off < 0 || off > len(s.Data) {
		return "", ErrRvaOutOfRange
	}
	end := off
	for end+1 < len(s.Data) && !(s.Data[end] == 0 && s.Data[end+1] == 0) {
		end += 2
	}
	decoded, err := utf16LEDecode(s.Data[off:end])
	if err != nil {
		return "", err
	}
	return decoded, nil
}
