// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import "testing"

func TestSectionForRVA(t *testing.T) {
	data := buildMinimalPE32([]byte{0x90, 0x90, 0xc3})
	img, err := ParseBytes(data, nil)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}

	s := img.SectionForRVA(0x1000)
	if s == nil || s.Name != ".text" {
		t.Fatalf("SectionForRVA(0x1000) = %v, want .text", s)
	}
	if img.SectionForRVA(0xdeadbeef) != nil {
		t.Fatalf("SectionForRVA(out of range) = non-nil, want nil")
	}
}

func TestRVAReaderBoundsChecking(t *testing.T) {
	data := buildMinimalPE32([]byte{0x01, 0x02, 0x03, 0x04})
	img, err := ParseBytes(data, nil)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	s := img.SectionForRVA(0x1000)

	rd, err := s.ReaderAt(0x1000)
	if err != nil {
		t.Fatalf("ReaderAt: %v", err)
	}
	v, err := rd.U32(0x1000)
	if err != nil {
		t.Fatalf("U32: %v", err)
	}
	if v != 0x04030201 {
		t.Fatalf("U32 = 0x%x, want 0x04030201", v)
	}

	if _, err := rd.U32(0x1000 + uint32(len(s.Data))); err != ErrRvaOutOfRange {
		t.Fatalf("U32(past data) err = %v, want ErrRvaOutOfRange", err)
	}
}

func TestSectionReaderAtRejectsOutOfRangeRVA(t *testing.T) {
	s := &Section{VirtualAddress: 0x1000, VirtualSize: 0x10, Data: make([]byte, 0x10)}
	if _, err := s.ReaderAt(0x2000); err != ErrRvaOutOfRange {
		t.Fatalf("ReaderAt(out of range) err = %v, want ErrRvaOutOfRange", err)
	}
}
