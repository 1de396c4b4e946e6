// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

const dosHeaderSize = 64

// DOS signature values. e_magic is stored big-endian on disk but is modeled
// here, and everywhere else in this package, as the little-endian-looking
// constant most tooling quotes it as ("MZ" => 0x5A4D); swap16 moves between
// the two forms at the stream boundary (§4.1, §4.6). Only ImageDOSSignature
// is accepted by ParseReader and parseDOSHeader: a stream opening with the
// NE or LE signature is rejected with ErrInvalidImageSignature.
const (
	ImageDOSSignature   uint16 = 0x5A4D // "MZ"
	ImageOS2Signature   uint16 = 0x454E // "NE"
	ImageOS2LESignature uint16 = 0x454C // "LE"
)

// DosHeader is the legacy 64-byte MS-DOS header every PE file begins with
// (§3 "PE DOS header + stub", §6 C6). The need for it arose before a
// significant number of consumers ran Windows: loaded from a DOS prompt,
// the stub prints a message saying Windows is required and exits.
type DosHeader struct {
	Magic                    uint16
	BytesOnLastPageOfFile    uint16
	PagesInFile              uint16
	Relocations              uint16
	SizeOfHeaderInParagraphs uint16
	MinExtraParagraphs       uint16
	MaxExtraParagraphs       uint16
	InitialSS                uint16
	InitialSP                uint16
	Checksum                 uint16
	InitialIP                uint16
	InitialCS                uint16
	AddressOfRelocationTable uint16
	OverlayNumber            uint16
	ReservedWords1           [4]uint16
	OEMIdentifier            uint16
	OEMInformation           uint16
	ReservedWords2           [10]uint16
	// AddressOfNewEXEHeader (e_lfanew) is the absolute file offset of the PE
	// signature. It is the only element of the DOS header, besides the
	// magic, required to turn the stub into a PE image; it can't be zero,
	// since the signatures would then overlap.
	AddressOfNewEXEHeader uint32
}

// parseDOSHeader reads the 64-byte DOS header at offset 0 and the opaque
// stub bytes between it and the PE signature (§4.6).
func (img *Image) parseDOSHeader(r *codecReader) error {
	h := &img.DosHeader
	var err error
	var rawMagic uint16
	if rawMagic, err = r.u16be(0); err != nil {
		return err
	}
	h.Magic = swap16(rawMagic)
	if h.BytesOnLastPageOfFile, err = r.u16(2); err != nil {
		return err
	}
	if h.PagesInFile, err = r.u16(4); err != nil {
		return err
	}
	if h.Relocations, err = r.u16(6); err != nil {
		return err
	}
	if h.SizeOfHeaderInParagraphs, err = r.u16(8); err != nil {
		return err
	}
	if h.MinExtraParagraphs, err = r.u16(10); err != nil {
		return err
	}
	if h.MaxExtraParagraphs, err = r.u16(12); err != nil {
		return err
	}
	if h.InitialSS, err = r.u16(14); err != nil {
		return err
	}
	if h.InitialSP, err = r.u16(16); err != nil {
		return err
	}
	if h.Checksum, err = r.u16(18); err != nil {
		return err
	}
	if h.InitialIP, err = r.u16(20); err != nil {
		return err
	}
	if h.InitialCS, err = r.u16(22); err != nil {
		return err
	}
	if h.AddressOfRelocationTable, err = r.u16(24); err != nil {
		return err
	}
	if h.OverlayNumber, err = r.u16(26); err != nil {
		return err
	}
	for i := 0; i < 4; i++ {
		if h.ReservedWords1[i], err = r.u16(28 + int64(i)*2); err != nil {
			return err
		}
	}
	if h.OEMIdentifier, err = r.u16(36); err != nil {
		return err
	}
	if h.OEMInformation, err = r.u16(38); err != nil {
		return err
	}
	for i := 0; i < 10; i++ {
		if h.ReservedWords2[i], err = r.u16(40 + int64(i)*2); err != nil {
			return err
		}
	}
	if h.AddressOfNewEXEHeader, err = r.u32(60); err != nil {
		return err
	}

	if h.Magic != ImageDOSSignature {
		return ErrInvalidImageSignature
	}

	if h.AddressOfNewEXEHeader < 4 || int64(h.AddressOfNewEXEHeader) > r.size {
		return ErrInvalidImageSignature
	}

	// A tiny PE can have e_lfanew as low as 4, meaning the NT headers
	// overlap the tail of the DOS header; there is no stub in that case.
	if h.AddressOfNewEXEHeader < dosHeaderSize {
		img.Anomalies = append(img.Anomalies, "PE header overlaps DOS header")
		img.DosStubBytes = nil
		return nil
	}

	stub, err := r.bytesAt(dosHeaderSize, int(h.AddressOfNewEXEHeader)-dosHeaderSize)
	if err != nil {
		return err
	}
	img.DosStubBytes = stub
	return nil
}

// writeDOSHeader emits the DOS header and stub bytes verbatim.
func (img *Image) writeDOSHeader(w *codecWriter) error {
	h := &img.DosHeader
	fields := []uint16{
		h.BytesOnLastPageOfFile, h.PagesInFile, h.Relocations,
		h.SizeOfHeaderInParagraphs, h.MinExtraParagraphs, h.MaxExtraParagraphs,
		h.InitialSS, h.InitialSP, h.Checksum, h.InitialIP, h.InitialCS,
		h.AddressOfRelocationTable, h.OverlayNumber,
	}
	if err := w.u16be(swap16(h.Magic)); err != nil {
		return err
	}
	for _, v := range fields {
		if err := w.u16(v); err != nil {
			return err
		}
	}
	for _, v := range h.ReservedWords1 {
		if err := w.u16(v); err != nil {
			return err
		}
	}
	if err := w.u16(h.OEMIdentifier); err != nil {
		return err
	}
	if err := w.u16(h.OEMInformation); err != nil {
		return err
	}
	for _, v := range h.ReservedWords2 {
		if err := w.u16(v); err != nil {
			return err
		}
	}
	if err := w.u32(h.AddressOfNewEXEHeader); err != nil {
		return err
	}
	return w.write(img.DosStubBytes)
}

// swap16 exchanges the two bytes of v; used to move e_magic between its
// big-endian on-disk form and the little-endian constant form used
// throughout this package.
func swap16(v uint16) uint16 {
	return v<<8 | v>>8
}
