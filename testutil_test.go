// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import "encoding/binary"

// buildMinimalPE32 assembles the smallest PE32 image this package can
// round-trip: a 64-byte DOS header with no stub (e_lfanew == 64), a COFF
// file header declaring one section, a PE32 optional header with two data
// directories, and a single ".text" section carrying codeBytes as its code.
// It mirrors the table-driven synthetic-fixture style used throughout this
// package's tests in place of checked-in binary samples, since none were
// available to ground fixtures on (see DESIGN.md).
func buildMinimalPE32(codeBytes []byte) []byte {
	const (
		dosSize    = 64
		lfanew     = dosSize
		fileHdrOff = lfanew + 4
		optHdrOff  = fileHdrOff + coffHeaderSize
		optHdrSize = 96 + 2*8 // two data directories
		sectOff    = optHdrOff + optHdrSize
		rawDataOff = 512
	)

	sizeOfRawData := alignUp(uint32(len(codeBytes)), 0x200)
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
	binary.LittleEndian.PutUint32(buf[optHdrOff+92:optHdrOff+96], 2)                  // NumberOfRvaAndSizes

	copy(buf[sectOff:sectOff+8], ".text")
	binary.LittleEndian.PutUint32(buf[sectOff+8:sectOff+12], uint32(len(codeBytes))) // VirtualSize
	binary.LittleEndian.PutUint32(buf[sectOff+12:sectOff+16], 0x1000)                // VirtualAddress
	binary.LittleEndian.PutUint32(buf[sectOff+16:sectOff+20], sizeOfRawData)
	binary.LittleEndian.PutUint32(buf[sectOff+20:sectOff+24], rawDataOff)
	binary.LittleEndian.PutUint32(buf[sectOff+36:sectOff+40], uint32(SectionCntCode|SectionMemExecute|SectionMemRead))

	copy(buf[rawDataOff:], codeBytes)
	return buf
}
