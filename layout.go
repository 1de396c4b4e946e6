// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import "sort"

// AddSection appends s to the image, assigning it a section header slot and
// marking the image dirty for re-layout (§ mutators, C9). Callers set s's
// Data and Characteristics before calling; VirtualAddress,
// PointerToRawData, VirtualSize and SizeOfRawData are recomputed by
// UpdateLayout and need not be pre-filled.
func (img *Image) AddSection(s *Section) error {
	if len(s.Name) > 8 {
		return ErrBadSectionName
	}
	img.Sections = append(img.Sections, s)
	img.FileHeader.NumberOfSections = uint16(len(img.Sections))
	return img.maybeRelayout()
}

// RemoveSection deletes the named section.
func (img *Image) RemoveSection(name string) error {
	for i, s := range img.Sections {
		if s.Name == name {
			img.Sections = append(img.Sections[:i], img.Sections[i+1:]...)
			img.FileHeader.NumberOfSections = uint16(len(img.Sections))
			return img.maybeRelayout()
		}
	}
	return ErrSectionNotFound
}

// UpdateLayout recomputes every file-offset- and RVA-derived field that
// depends on the current set of sections and the symbol table:
// SizeOfHeaders, section VirtualAddress/PointerToRawData placement,
// BaseOfCode, SizeOfImage, and FileHeader.PointerToSymbolTable
// (§4.9/§9 "layout engine", C9). The certificate table's placement is not
// recomputed here. It is called automatically by every mutator unless
// layout is suspended (SuspendLayout/ResumeLayout), and always at the start
// of Write if anything is still dirty.
//
// Sections already carrying a non-zero VirtualAddress are ordered by
// ascending VirtualAddress; a newly added section (VirtualAddress == 0) is
// placed after the last existing section, matching how a linker appends
// rather than interleaves new sections into an existing layout.
func (img *Image) UpdateLayout() error {
	img.needsLayout = false
	if img.OptHeader == nil {
		return img.updateObjectLayout()
	}

	fileAlign := img.fileAlignment()
	secAlign := img.OptHeader.SectionAlignment()
	if secAlign == 0 {
		secAlign = 0x1000
	}

	// §4.9: "If the existing value is larger, preserve it" — some
	// real-world toolchains inflate SizeOfHeaders beyond the computed
	// minimum, and re-laying out the image must not shrink it back down.
	if wanted := alignUp(img.headersSize(), fileAlign); wanted > img.OptHeader.SizeOfHeaders() {
		img.OptHeader.SetSizeOfHeaders(wanted)
	}

	ordered := make([]*Section, len(img.Sections))
	copy(ordered, img.Sections)
	sort.SliceStable(ordered, func(i, j int) bool {
		iNew, jNew := ordered[i].VirtualAddress == 0, ordered[j].VirtualAddress == 0
		if iNew != jNew {
			return !iNew // existing sections (already positioned) sort first
		}
		return ordered[i].VirtualAddress < ordered[j].VirtualAddress
	})

	preserveSymPtr := img.symtabPointerIsCurrent(ordered)

	fileCursor := img.OptHeader.SizeOfHeaders()
	vaCursor := alignUp(img.OptHeader.SizeOfHeaders(), secAlign)
	var sizeOfCode, sizeOfInitData, sizeOfUninitData uint32
	var baseOfCode uint32
	codeSeen := false

	for _, s := range ordered {
		s.VirtualSize = uint32(len(s.Data))
		if s.VirtualSize == 0 {
			s.VirtualSize = s.SizeOfRawData
		}
		s.VirtualAddress = vaCursor
		s.SizeOfRawData = alignUp(uint32(len(s.Data)), fileAlign)
		if s.SizeOfRawData > 0 {
			s.PointerToRawData = fileCursor
			fileCursor = alignUp(fileCursor+s.SizeOfRawData, fileAlign)
		} else {
			s.PointerToRawData = 0
		}
		vaCursor = alignUp(vaCursor+s.VirtualSize, secAlign)

		if s.Characteristics.Has(SectionCntCode) {
			sizeOfCode += s.SizeOfRawData
			if !codeSeen {
				baseOfCode = s.VirtualAddress
				codeSeen = true
			}
		}
		if s.Characteristics.Has(SectionCntInitializedData) {
			sizeOfInitData += s.SizeOfRawData
		}
		if s.Characteristics.Has(SectionCntUninitializedData) {
			sizeOfUninitData += s.VirtualSize
		}

		if s.NumberOfRelocations > 0 {
			s.PointerToRelocations = fileCursor
			fileCursor += uint32(s.NumberOfRelocations) * 10
		} else {
			s.PointerToRelocations = 0
		}
		if s.NumberOfLineNumbers > 0 {
			s.PointerToLineNumbers = fileCursor
			fileCursor += uint32(s.NumberOfLineNumbers) * 6
		} else {
			s.PointerToLineNumbers = 0
		}
	}

	// §4.9: "first section VA if no code section".
	if !codeSeen && len(ordered) > 0 {
		baseOfCode = ordered[0].VirtualAddress
	}

	if preserveSymPtr {
		// A .symtab section already pointed at the current symbol table
		// offset; keep FileHeader.PointerToSymbolTable as-is rather than
		// relocating it out from under that section (§4.9 Design Notes).
	} else if len(img.Symbols) > 0 || img.FileHeader.PointerToSymbolTable != 0 {
		img.FileHeader.PointerToSymbolTable = fileCursor
	}

	img.OptHeader.SetSizeOfImage(alignUp(vaCursor, secAlign))
	if oh32, ok := img.OptHeader.(*OptionalHeader32); ok {
		oh32.BaseCode = baseOfCode
		oh32.SizeOfCode = sizeOfCode
		oh32.SizeOfInitializedData = sizeOfInitData
		oh32.SizeOfUninitializedData = sizeOfUninitData
	} else if oh64, ok := img.OptHeader.(*OptionalHeader64); ok {
		oh64.BaseCode = baseOfCode
		oh64.SizeOfCode = sizeOfCode
		oh64.SizeOfInitializedData = sizeOfInitData
		oh64.SizeOfUninitializedData = sizeOfUninitData
	}

	img.Sections = ordered
	return nil
}

// updateObjectLayout recomputes section placement for a COFF object file
// (no PE optional header, §4.9). There is no SizeOfHeaders, SizeOfImage or
// BaseOfCode to maintain; file_alignment is 0 (fileAlignment returns 0 for
// this case), so sections pack back to back with no padding. Only the
// section headers' file-offset fields, their VirtualSize and SizeOfRawData
// (both recomputed from len(Data)), and FileHeader.PointerToSymbolTable
// change.
func (img *Image) updateObjectLayout() error {
	fileAlign := img.fileAlignment()

	ordered := make([]*Section, len(img.Sections))
	copy(ordered, img.Sections)
	sort.SliceStable(ordered, func(i, j int) bool {
		iNew, jNew := ordered[i].PointerToRawData == 0, ordered[j].PointerToRawData == 0
		if iNew != jNew {
			return !iNew
		}
		return ordered[i].PointerToRawData < ordered[j].PointerToRawData
	})

	preserveSymPtr := img.symtabPointerIsCurrent(ordered)

	fileCursor := img.headersSize()
	for _, s := range ordered {
		s.VirtualSize = uint32(len(s.Data))
		s.SizeOfRawData = alignUp(uint32(len(s.Data)), fileAlign)
		if s.SizeOfRawData > 0 {
			s.PointerToRawData = fileCursor
			fileCursor = alignUp(fileCursor+s.SizeOfRawData, fileAlign)
		} else {
			s.PointerToRawData = 0
		}

		if s.NumberOfRelocations > 0 {
			s.PointerToRelocations = fileCursor
			fileCursor += uint32(s.NumberOfRelocations) * 10
		} else {
			s.PointerToRelocations = 0
		}
		if s.NumberOfLineNumbers > 0 {
			s.PointerToLineNumbers = fileCursor
			fileCursor += uint32(s.NumberOfLineNumbers) * 6
		} else {
			s.PointerToLineNumbers = 0
		}
	}

	if preserveSymPtr {
		// keep FileHeader.PointerToSymbolTable as-is, see UpdateLayout.
	} else if len(img.Symbols) > 0 || img.FileHeader.PointerToSymbolTable != 0 {
		img.FileHeader.PointerToSymbolTable = fileCursor
	}

	img.Sections = ordered
	return nil
}

// symtabPointerIsCurrent reports whether a section literally named .symtab
// already has a PointerToRawData equal to FileHeader.PointerToSymbolTable,
// the convention (§4.9 Design Notes) some toolchains use to co-locate the
// symbol table with a section of that name. When true, UpdateLayout leaves
// PointerToSymbolTable alone instead of recomputing it to a fresh offset.
func (img *Image) symtabPointerIsCurrent(sections []*Section) bool {
	if img.FileHeader.PointerToSymbolTable == 0 {
		return false
	}
	for _, s := range sections {
		if s.Name == ".symtab" {
			return s.PointerToRawData == img.FileHeader.PointerToSymbolTable
		}
	}
	return false
}

// headersSize returns the combined, pre-file-alignment size of the headers
// that precede the section bodies: for an image, the DOS header+stub, PE
// signature, COFF file header, optional header and section table; for a
// bare object file (peHeaderOffset == 0: no DOS header or PE signature was
// ever present), just the COFF file header and section table (§4.3
// SizeOfHeaders, §3 object-file layout).
func (img *Image) headersSize() uint32 {
	if img.peHeaderOffset == 0 {
		return coffHeaderSize + uint32(len(img.Sections))*sectionHeaderSize
	}
	size := uint32(img.DosHeader.AddressOfNewEXEHeader) // DOS header + stub
	size += 4                                            // "PE\0\0"
	size += coffHeaderSize
	if img.OptHeader != nil {
		size += img.OptHeader.diskSize()
	}
	size += uint32(len(img.Sections)) * sectionHeaderSize
	return size
}
