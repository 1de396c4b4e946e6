// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import (
	"encoding/binary"
	"testing"
)

// buildPE32WithBaseRelocs assembles a minimal PE32 image, in the style of
// buildMinimalPE32, but declaring six data directories so that data
// directory 5 (DirectoryBaseReloc) can be populated; the base relocation
// block itself is placed at the start of the .text section's raw data.
func buildPE32WithBaseRelocs() []byte {
	// Block: PageRVA=0x1000, BlockSize=8 (header) + 2 entries * 2 bytes = 12.
	entries := []uint16{
		uint16(BaseRelHighLow)<<12 | 0x004,
		uint16(BaseRelAbsolute)<<12 | 0x000, // padding entry
	}
	block := make([]byte, 8+len(entries)*2)
	binary.LittleEndian.PutUint32(block[0:4], 0x1000)
	binary.LittleEndian.PutUint32(block[4:8], uint32(len(block)))
	for i, e := range entries {
		binary.LittleEndian.PutUint16(block[8+i*2:10+i*2], e)
	}

	const (
		dosSize    = 64
		lfanew     = dosSize
		fileHdrOff = lfanew + 4
		optHdrOff  = fileHdrOff + coffHeaderSize
		numDirs    = 6
		optHdrSize = 96 + numDirs*8
		sectOff    = optHdrOff + optHdrSize
		rawDataOff = 512
	)

	sizeOfRawData := alignUp(uint32(len(block)), 0x200)
	headersSize := alignUp(uint32(sectOff+sectionHeaderSize), 0x200)

	buf := make([]byte, int(headersSize)+int(sizeOfRawData))

	binary.LittleEndian.PutUint16(buf[0:2], ImageDOSSignature)
	binary.LittleEndian.PutUint32(buf[60:64], lfanew)

	binary.LittleEndian.PutUint32(buf[lfanew:lfanew+4], PESignature)
	binary.LittleEndian.PutUint16(buf[fileHdrOff:fileHdrOff+2], uint16(MachineI386))
	binary.LittleEndian.PutUint16(buf[fileHdrOff+2:fileHdrOff+4], 1) // NumberOfSections
	binary.LittleEndian.PutUint16(buf[fileHdrOff+16:fileHdrOff+18], uint16(optHdrSize))
	binary.LittleEndian.PutUint16(buf[fileHdrOff+18:fileHdrOff+20], uint16(CharacteristicsExecutableImage))

	binary.LittleEndian.PutUint16(buf[optHdrOff:optHdrOff+2], OptionalHeaderMagicPE32)
	binary.LittleEndian.PutUint32(buf[optHdrOff+28:optHdrOff+32], 0x00400000) // ImageBase
	binary.LittleEndian.PutUint32(buf[optHdrOff+32:optHdrOff+36], 0x1000)     // SectionAlignment
	binary.LittleEndian.PutUint32(buf[optHdrOff+36:optHdrOff+40], 0x200)      // FileAlignment
	binary.LittleEndian.PutUint32(buf[optHdrOff+56:optHdrOff+60], headersSize+0x1000) // SizeOfImage
	binary.LittleEndian.PutUint32(buf[optHdrOff+60:optHdrOff+64], headersSize)        // SizeOfHeaders
	binary.LittleEndian.PutUint32(buf[optHdrOff+92:optHdrOff+96], numDirs)             // NumberOfRvaAndSizes

	dir5Off := optHdrOff + 96 + DirectoryBaseReloc*8
	binary.LittleEndian.PutUint32(buf[dir5Off:dir5Off+4], 0x1000)
	binary.LittleEndian.PutUint32(buf[dir5Off+4:dir5Off+8], uint32(len(block)))

	copy(buf[sectOff:sectOff+8], ".text")
	binary.LittleEndian.PutUint32(buf[sectOff+8:sectOff+12], uint32(len(block))) // VirtualSize
	binary.LittleEndian.PutUint32(buf[sectOff+12:sectOff+16], 0x1000)           // VirtualAddress
	binary.LittleEndian.PutUint32(buf[sectOff+16:sectOff+20], sizeOfRawData)
	binary.LittleEndian.PutUint32(buf[sectOff+20:sectOff+24], rawDataOff)
	binary.LittleEndian.PutUint32(buf[sectOff+36:sectOff+40], uint32(SectionCntInitializedData|SectionMemRead|SectionMemWrite))

	copy(buf[rawDataOff:], block)
	return buf
}

func TestParseBaseRelocationDirectory(t *testing.T) {
	data := buildPE32WithBaseRelocs()
	img, err := ParseBytes(data, nil)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}

	if len(img.BaseRelocations) != 1 {
		t.Fatalf("len(BaseRelocations) = %d, want 1", len(img.BaseRelocations))
	}
	block := img.BaseRelocations[0]
	if block.PageRVA != 0x1000 {
		t.Fatalf("PageRVA = 0x%x, want 0x1000", block.PageRVA)
	}
	if len(block.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(block.Entries))
	}
	if block.Entries[0].Type != BaseRelHighLow || block.Entries[0].Offset != 0x004 {
		t.Fatalf("Entries[0] = %+v, want Type=HIGHLOW Offset=0x004", block.Entries[0])
	}
	if block.Entries[0].RVA != 0x1004 {
		t.Fatalf("Entries[0].RVA = 0x%x, want 0x1004", block.Entries[0].RVA)
	}
}
