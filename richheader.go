// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import "encoding/binary"

// Rich header magic values. The header sits inside the DOS stub, between
// the end of the fixed DOS header and the PE signature; it has no declared
// length of its own, so it is located by scanning for "Rich" and walking
// backward (§6 supplemental "Rich header").
const (
	richDansSignature uint32 = 0x536e6144 // "DanS"
	richSignature     uint32 = 0x68636952 // "Rich"
)

// CompID is one decoded `@comp.id` entry of the rich header: a record of a
// single object file or library that contributed to the link, tagged with
// the tool that produced it.
type CompID struct {
	MinorCV  uint16
	ProdID   uint16
	Count    uint32
	Unmasked uint32
}

// RichHeader is the decoded, XOR-masked "bill of materials" Microsoft's
// linker embeds in the DOS stub of every image it produces (§6
// supplemental). PENUT parses it best-effort from Image.DosStubBytes; it is
// absent from images built by other toolchains.
type RichHeader struct {
	XORKey     uint32
	CompIDs    []CompID
	DansOffset int
	Raw        []byte
}

// parseRichHeader scans the DOS stub for a rich header. It is not part of
// the core parse orchestration failure path: a missing or malformed rich
// header just leaves Image.Rich nil.
func (img *Image) parseRichHeader() {
	stub := img.DosStubBytes
	richIdx := findDWord(stub, richSignature)
	if richIdx < 0 {
		return
	}
	if richIdx+8 > len(stub) {
		return
	}
	xorKey := binary.LittleEndian.Uint32(stub[richIdx+4 : richIdx+8])

	// DanS is masked too; unmask candidates against xorKey until it matches.
	dansIdx := -1
	for i := 0; i+4 <= richIdx; i += 4 {
		v := binary.LittleEndian.Uint32(stub[i:i+4]) ^ xorKey
		if v == richDansSignature {
			dansIdx = i
			break
		}
	}
	if dansIdx < 0 {
		return
	}

	rh := &RichHeader{XORKey: xorKey, DansOffset: dansIdx, Raw: stub[dansIdx:richIdx]}
	// Three padding DWORDs follow DanS before the repeating @comp.id pairs.
	start := dansIdx + 16
	for i := start; i+8 <= richIdx; i += 8 {
		compMasked := binary.LittleEndian.Uint32(stub[i : i+4])
		countMasked := binary.LittleEndian.Uint32(stub[i+4 : i+8])
		comp := compMasked ^ xorKey
		count := countMasked ^ xorKey
		rh.CompIDs = append(rh.CompIDs, CompID{
			MinorCV: uint16(comp), ProdID: uint16(comp >> 16), Count: count, Unmasked: comp,
		})
	}
	img.Rich = rh
}

// findDWord returns the byte index of the first little-endian occurrence of
// v in b, or -1.
func findDWord(b []byte, v uint32) int {
	if len(b) < 4 {
		return -1
	}
	for i := 0; i+4 <= len(b); i++ {
		if binary.LittleEndian.Uint32(b[i:i+4]) == v {
			return i
		}
	}
	return -1
}
