// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

const coffHeaderSize = 20

// Characteristics is the set of flags describing attributes of the file
// (FileHeader.Characteristics, §4.2).
type Characteristics uint16

// Recognized characteristics flags (IMAGE_FILE_*).
const (
	CharacteristicsRelocsStripped     Characteristics = 0x0001
	CharacteristicsExecutableImage    Characteristics = 0x0002
	CharacteristicsLineNumsStripped   Characteristics = 0x0004
	CharacteristicsLocalSymsStripped  Characteristics = 0x0008
	CharacteristicsLargeAddressAware  Characteristics = 0x0020
	CharacteristicsBytesReversedLO    Characteristics = 0x0080
	Characteristics32BitMachine       Characteristics = 0x0100
	CharacteristicsDebugStripped      Characteristics = 0x0200
	CharacteristicsRemovableRunFromSw Characteristics = 0x0400
	CharacteristicsNetRunFromSwap     Characteristics = 0x0800
	CharacteristicsSystem             Characteristics = 0x1000
	CharacteristicsDLL                Characteristics = 0x2000
	CharacteristicsUpSystemOnly       Characteristics = 0x4000
	CharacteristicsBytesReversedHI    Characteristics = 0x8000
)

// Has reports whether all bits of flag are set.
func (c Characteristics) Has(flag Characteristics) bool { return c&flag == flag }

// PESignature is the 4-byte magic following the DOS stub ("PE\x00\x00").
const PESignature uint32 = 0x00004550

// FileHeader is the 20-byte COFF file header that follows the PE signature
// in an image, or starts a bare object file at offset 0 (§3 "COFF file
// header", §6 C2). It is identical in both contexts; ParseReader dispatches
// on whether the stream opens with the DOS signature to decide which form
// it is reading (§8 scenario 4 "Object-file round-trip").
type FileHeader struct {
	Machine              Machine
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      Characteristics
}

// parsePESignatureAndFileHeader reads the 4-byte "PE\0\0" signature and the
// COFF file header that follows it, at the offset recorded by the DOS
// header's AddressOfNewEXEHeader (§4.2).
func (img *Image) parsePESignatureAndFileHeader(r *codecReader) error {
	off := int64(img.DosHeader.AddressOfNewEXEHeader)
	sig, err := r.u32(off)
	if err != nil {
		return err
	}
	if sig != PESignature {
		return ErrInvalidImageSignature
	}
	img.peHeaderOffset = off

	fhOff := off + 4
	if err := img.parseFileHeaderAt(r, fhOff); err != nil {
		return err
	}
	img.optionalHeaderOffset = fhOff + coffHeaderSize
	return nil
}

// parseObjectFileHeader reads the 20-byte COFF file header starting at
// offset 0, the form a bare object file begins with: no DOS header, no PE
// signature, no optional header unless SizeOfOptionalHeader says otherwise
// (§3, §6 C2, §8 scenario 4).
func (img *Image) parseObjectFileHeader(r *codecReader) error {
	if err := img.parseFileHeaderAt(r, 0); err != nil {
		return err
	}
	img.optionalHeaderOffset = coffHeaderSize
	return nil
}

// parseFileHeaderAt decodes the 20-byte FileHeader fields at an absolute
// offset, shared by the image form (right after the PE signature) and the
// object form (at offset 0).
func (img *Image) parseFileHeaderAt(r *codecReader, fhOff int64) error {
	h := &img.FileHeader
	var err error
	var machine uint16
	if machine, err = r.u16(fhOff); err != nil {
		return err
	}
	h.Machine = Machine(machine)
	if h.NumberOfSections, err = r.u16(fhOff + 2); err != nil {
		return err
	}
	if h.TimeDateStamp, err = r.u32(fhOff + 4); err != nil {
		return err
	}
	if h.PointerToSymbolTable, err = r.u32(fhOff + 8); err != nil {
		return err
	}
	if h.NumberOfSymbols, err = r.u32(fhOff + 12); err != nil {
		return err
	}
	if h.SizeOfOptionalHeader, err = r.u16(fhOff + 16); err != nil {
		return err
	}
	var characteristics uint16
	if characteristics, err = r.u16(fhOff + 18); err != nil {
		return err
	}
	h.Characteristics = Characteristics(characteristics)
	return nil
}

// writeFileHeader emits the PE signature (image form only) and the 20-byte
// COFF file header. peHeaderOffset is zero only for a bare object file,
// which never had a PE signature to begin with (it is otherwise always >= 4,
// the smallest legal AddressOfNewEXEHeader, §4.6).
func (img *Image) writeFileHeader(w *codecWriter) error {
	if img.peHeaderOffset != 0 {
		if err := w.u32(PESignature); err != nil {
			return err
		}
	}
	h := &img.FileHeader
	if err := w.u16(uint16(h.Machine)); err != nil {
		return err
	}
	if err := w.u16(h.NumberOfSections); err != nil {
		return err
	}
	if err := w.u32(h.TimeDateStamp); err != nil {
		return err
	}
	if err := w.u32(h.PointerToSymbolTable); err != nil {
		return err
	}
	if err := w.u32(h.NumberOfSymbols); err != nil {
		return err
	}
	if err := w.u16(h.SizeOfOptionalHeader); err != nil {
		return err
	}
	return w.u16(uint16(h.Characteristics))
}
