// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

// BaseRelocationBlock is one block of the base relocation directory: a
// page-granular (4KB) group of fixups the loader applies if the image
// could not be mapped at its preferred ImageBase (§4.8 "Base relocations").
// This is architecturally distinct from Section.Relocations, which are the
// COFF object-file relocations consumed by the linker rather than the
// loader.
type BaseRelocationBlock struct {
	PageRVA   uint32
	BlockSize uint32
	Entries   []BaseRelocationEntry
}

// BaseRelocationEntry is one 2-byte (type:4, offset:12) fixup within a
// block. RVA is PageRVA + Offset, precomputed for convenience.
type BaseRelocationEntry struct {
	Type   BaseRelocationType
	Offset uint16
	RVA    uint32
}

const baseRelocBlockHeaderSize = 8

// parseBaseRelocationDirectory walks the base relocation blocks referenced
// by data directory 5 until the directory's Size bytes are exhausted
// (§4.8).
func (img *Image) parseBaseRelocationDirectory() error {
	dir := img.directoryRVA(DirectoryBaseReloc)
	if dir.VirtualAddress == 0 {
		return nil
	}
	sec := img.SectionForRVA(dir.VirtualAddress)
	if sec == nil {
		img.Anomalies = append(img.Anomalies, newMalformedDirectory("BaseRelocation", ErrRvaOutOfRange).Error())
		return nil
	}
	rd, err := sec.ReaderAt(dir.VirtualAddress)
	if err != nil {
		return nil
	}

	maxEntries := uint32(0)
	if img.ReadOpts != nil {
		maxEntries = img.ReadOpts.MaxRelocationEntries
	}

	var blocks []BaseRelocationBlock
	rva := dir.VirtualAddress
	end := dir.VirtualAddress + dir.Size
	totalEntries := uint32(0)
	for rva < end {
		pageRVA, e1 := rd.U32(rva)
		blockSize, e2 := rd.U32(rva + 4)
		if e1 != nil || e2 != nil || blockSize < baseRelocBlockHeaderSize {
			img.Anomalies = append(img.Anomalies, newMalformedDirectory("BaseRelocation", ErrRvaOutOfRange).Error())
			break
		}
		block := BaseRelocationBlock{PageRVA: pageRVA, BlockSize: blockSize}
		n := (blockSize - baseRelocBlockHeaderSize) / 2
		for i := uint32(0); i < n; i++ {
			entryOff := rva + baseRelocBlockHeaderSize + i*2
			raw, err := rd.U16(entryOff)
			if err != nil {
				break
			}
			typ := BaseRelocationType(raw >> 12)
			offset := raw & 0x0fff
			block.Entries = append(block.Entries, BaseRelocationEntry{
				Type: typ, Offset: offset, RVA: pageRVA + uint32(offset),
			})
			totalEntries++
			if maxEntries > 0 && totalEntries >= maxEntries {
				img.Anomalies = append(img.Anomalies, "base relocation entry count reached configured maximum, truncating")
				blocks = append(blocks, block)
				img.BaseRelocations = blocks
				return nil
			}
		}
		blocks = append(blocks, block)
		// §4.8: advance by the declared block size rounded up to 4, not the
		// raw (possibly odd) size, so a trailing absolute-padding entry
		// isn't mistaken for the start of the next block.
		rva += alignUp(blockSize, 4)
	}
	img.BaseRelocations = blocks
	return nil
}
