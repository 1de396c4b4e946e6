// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import (
	"bytes"
	"testing"
)

func TestParseBytesMinimalPE32(t *testing.T) {
	data := buildMinimalPE32([]byte{0x90, 0x90, 0xc3})

	img, err := ParseBytes(data, nil)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}

	if img.Is64 {
		t.Fatalf("expected PE32, got PE32+")
	}
	if img.FileHeader.Machine != MachineI386 {
		t.Fatalf("Machine = %v, want I386", img.FileHeader.Machine)
	}
	if len(img.Sections) != 1 {
		t.Fatalf("len(Sections) = %d, want 1", len(img.Sections))
	}
	if img.Sections[0].Name != ".text" {
		t.Fatalf("section name = %q, want .text", img.Sections[0].Name)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	data := buildMinimalPE32([]byte{0x90, 0x90, 0xc3, 0xcc})

	img, err := ParseBytes(data, nil)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}

	var buf writeSeekBuffer
	if err := img.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !bytes.Equal(buf.data, data) {
		t.Fatalf("round-trip mismatch:\n got  %x\n want %x", buf.data, data)
	}
}

func TestAddSectionTriggersLayout(t *testing.T) {
	data := buildMinimalPE32([]byte{0x90})
	img, err := ParseBytes(data, nil)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}

	newSection := &Section{
		Name:            ".data",
		Data:            []byte{1, 2, 3, 4},
		Characteristics: SectionCntInitializedData | SectionMemRead | SectionMemWrite,
	}
	if err := img.AddSection(newSection); err != nil {
		t.Fatalf("AddSection: %v", err)
	}

	if len(img.Sections) != 2 {
		t.Fatalf("len(Sections) = %d, want 2", len(img.Sections))
	}
	if img.Sections[1].VirtualAddress == 0 {
		t.Fatalf("new section was not laid out: VirtualAddress == 0")
	}
	if img.FileHeader.NumberOfSections != 2 {
		t.Fatalf("NumberOfSections = %d, want 2", img.FileHeader.NumberOfSections)
	}

	var buf writeSeekBuffer
	if err := img.Write(&buf); err != nil {
		t.Fatalf("Write after AddSection: %v", err)
	}
}

func TestRemoveSectionNotFound(t *testing.T) {
	data := buildMinimalPE32([]byte{0x90})
	img, err := ParseBytes(data, nil)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if err := img.RemoveSection(".nope"); err != ErrSectionNotFound {
		t.Fatalf("RemoveSection(unknown) err = %v, want ErrSectionNotFound", err)
	}
}

func TestSuspendResumeLayoutBatchesUpdate(t *testing.T) {
	data := buildMinimalPE32([]byte{0x90})
	img, err := ParseBytes(data, nil)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}

	img.SuspendLayout()
	_ = img.AddSection(&Section{Name: ".a", Data: []byte{1}})
	_ = img.AddSection(&Section{Name: ".b", Data: []byte{2}})
	if !img.needsLayout {
		t.Fatalf("expected needsLayout while suspended")
	}
	if err := img.ResumeLayout(); err != nil {
		t.Fatalf("ResumeLayout: %v", err)
	}
	if img.needsLayout {
		t.Fatalf("expected layout applied after ResumeLayout")
	}
	if len(img.Sections) != 3 {
		t.Fatalf("len(Sections) = %d, want 3", len(img.Sections))
	}
}

func TestParseBytesRejectsBadSignature(t *testing.T) {
	data := buildMinimalPE32([]byte{0x90})
	data[0] = 'X'
	if _, err := ParseBytes(data, nil); err != ErrInvalidImageSignature {
		t.Fatalf("err = %v, want ErrInvalidImageSignature", err)
	}
}

func TestParseBytesTruncated(t *testing.T) {
	data := buildMinimalPE32([]byte{0x90})
	if _, err := ParseBytes(data[:10], nil); err == nil {
		t.Fatalf("expected error parsing truncated image")
	}
}
