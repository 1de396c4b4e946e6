// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildMinimalCOFFObject assembles the smallest bare object file this
// package can round-trip: no DOS header, no PE signature, no optional
// header — FileHeader sits directly at offset 0, followed by one section
// header, that section's raw data, a one-entry symbol table and an empty
// (4-byte) string table (§8 scenario 4 "Object-file round-trip").
func buildMinimalCOFFObject(codeBytes []byte) []byte {
	const (
		fileHdrOff = 0
		sectOff    = fileHdrOff + coffHeaderSize
		rawDataOff = sectOff + sectionHeaderSize
	)
	symTableOff := rawDataOff + len(codeBytes)
	strTableOff := symTableOff + symbolRecordSize
	total := strTableOff + 4

	buf := make([]byte, total)

	binary.LittleEndian.PutUint16(buf[0:2], uint16(MachineI386))
	binary.LittleEndian.PutUint16(buf[2:4], 1) // NumberOfSections
	binary.LittleEndian.PutUint32(buf[8:12], uint32(symTableOff))
	binary.LittleEndian.PutUint32(buf[12:16], 1) // NumberOfSymbols
	binary.LittleEndian.PutUint16(buf[16:18], 0) // SizeOfOptionalHeader

	copy(buf[sectOff:sectOff+8], ".text")
	binary.LittleEndian.PutUint32(buf[sectOff+8:sectOff+12], uint32(len(codeBytes)))  // VirtualSize
	binary.LittleEndian.PutUint32(buf[sectOff+16:sectOff+20], uint32(len(codeBytes))) // SizeOfRawData
	binary.LittleEndian.PutUint32(buf[sectOff+20:sectOff+24], uint32(rawDataOff))     // PointerToRawData
	binary.LittleEndian.PutUint32(buf[sectOff+36:sectOff+40],
		uint32(SectionCntCode|SectionMemExecute|SectionMemRead))

	copy(buf[rawDataOff:], codeBytes)

	copy(buf[symTableOff:symTableOff+8], "_main")
	binary.LittleEndian.PutUint16(buf[symTableOff+12:symTableOff+14], 1) // SectionNumber
	buf[symTableOff+16] = byte(StorageClassExternal)

	binary.LittleEndian.PutUint32(buf[strTableOff:strTableOff+4], 4)
	return buf
}

func TestParseBytesObjectFile(t *testing.T) {
	data := buildMinimalCOFFObject([]byte{0x55, 0x89, 0xe5, 0xc3})

	img, err := ParseBytes(data, nil)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}

	if img.OptHeader != nil {
		t.Fatalf("expected nil OptHeader for a bare object file")
	}
	if img.FileHeader.Machine != MachineI386 {
		t.Fatalf("Machine = %v, want I386", img.FileHeader.Machine)
	}
	if len(img.Sections) != 1 || img.Sections[0].Name != ".text" {
		t.Fatalf("Sections = %+v, want one .text section", img.Sections)
	}
	if len(img.Symbols) != 1 || img.Symbols[0].Name != "_main" {
		t.Fatalf("Symbols = %+v, want one _main symbol", img.Symbols)
	}
	if img.Symbols[0].StorageClass != StorageClassExternal {
		t.Fatalf("StorageClass = %v, want External", img.Symbols[0].StorageClass)
	}
}

func TestObjectFileWriteRoundTrip(t *testing.T) {
	data := buildMinimalCOFFObject([]byte{0x55, 0x89, 0xe5, 0xc3})

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

func TestParseBytesObjectFileRejectsUnrecognizedStream(t *testing.T) {
	data := buildMinimalCOFFObject([]byte{0x90})
	data[0] = 'X'
	data[1] = 'Y' // neither "MZ" nor a recognized Machine value
	if _, err := ParseBytes(data, nil); err != ErrInvalidImageSignature {
		t.Fatalf("err = %v, want ErrInvalidImageSignature", err)
	}
}
