// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import "sort"

const symbolRecordSize = 18

// SectionNumber is a Symbol's SectionNumber field. Positive values are a
// 1-based index into the section table; the values below are reserved
// (IMAGE_SYM_*).
type SectionNumber int16

// Reserved section numbers.
const (
	SectionNumberUndefined SectionNumber = 0
	SectionNumberAbsolute  SectionNumber = -1
	SectionNumberDebug     SectionNumber = -2
)

// StorageClass classifies a symbol's visibility and linkage (IMAGE_SYM_CLASS_*).
type StorageClass uint8

// Recognized storage classes.
const (
	StorageClassEndOfFunction StorageClass = 0xff
	StorageClassNull          StorageClass = 0
	StorageClassAutomatic     StorageClass = 1
	StorageClassExternal      StorageClass = 2
	StorageClassStatic        StorageClass = 3
	StorageClassRegister      StorageClass = 4
	StorageClassExternalDef   StorageClass = 5
	StorageClassLabel         StorageClass = 6
	StorageClassFunction      StorageClass = 101
	StorageClassFile          StorageClass = 103
)

// Symbol is one 18-byte entry of the COFF symbol table (§4.9, C5). Name is
// the decoded form: either the short inline 8-byte name, or the string
// looked up in the owning string table when the first four bytes of the raw
// name field are zero (the "long name" encoding, §4.9).
type Symbol struct {
	Name               string
	Value              uint32
	SectionNumber      SectionNumber
	Type               uint16
	StorageClass       StorageClass
	NumberOfAuxSymbols uint8
	// AuxRaw holds the raw bytes of any auxiliary symbol records that follow
	// this entry (NumberOfAuxSymbols * 18 bytes). PENUT treats their content
	// as opaque since its interpretation is storage-class- and even
	// compiler-specific (§4.9 aux records), but preserves it byte-exact.
	AuxRaw []byte

	// longNameOffset records the string-table offset this symbol used, so
	// writeSymbolTable can re-emit an unchanged offset.
	longNameOffset uint32
	isLongName     bool
}

// StringTable is the COFF string table trailing the symbol table: a 4-byte
// little-endian total size followed by NUL-terminated strings (§4.9). Per
// the Design Notes Open Question on offset accounting, PENUT follows the
// specification convention that offsets are measured from the start of the
// 4-byte size field itself, so the first string after the size field sits
// at offset 4, not 0.
type StringTable struct {
	entries map[uint32]string
	size    uint32 // total size including the leading 4-byte size field
}

func newStringTable() *StringTable {
	return &StringTable{entries: map[uint32]string{}, size: 4}
}

// Lookup returns the string stored at offset, or "" with ok=false if no
// string starts there.
func (t *StringTable) Lookup(offset uint32) (string, bool) {
	s, ok := t.entries[offset]
	return s, ok
}

// Add appends s and returns the offset it was stored at.
func (t *StringTable) Add(s string) uint32 {
	off := t.size
	t.entries[off] = s
	t.size += uint32(len(s)) + 1
	return off
}

// Remove deletes the string at offset. It does not compact the table or
// renumber later offsets — other symbols' longNameOffset values stay valid,
// matching the teacher's append-only StringTableM map.
func (t *StringTable) Remove(offset uint32) error {
	if _, ok := t.entries[offset]; !ok {
		return ErrStringOffsetNotFound
	}
	delete(t.entries, offset)
	return nil
}

// orderedOffsets returns the table's offsets in ascending order, the order
// writeSymbolTable emits them in.
func (t *StringTable) orderedOffsets() []uint32 {
	offs := make([]uint32, 0, len(t.entries))
	for off := range t.entries {
		offs = append(offs, off)
	}
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	return offs
}

// parseSymbolTable reads FileHeader.NumberOfSymbols 18-byte symbol records
// starting at FileHeader.PointerToSymbolTable, then the string table that
// immediately follows them (§4.9).
func (img *Image) parseSymbolTable(r *codecReader) error {
	if img.FileHeader.PointerToSymbolTable == 0 || img.FileHeader.NumberOfSymbols == 0 {
		img.Strings = newStringTable()
		return nil
	}

	count := img.FileHeader.NumberOfSymbols
	if img.ReadOpts != nil && img.ReadOpts.MaxSymbolCount > 0 && count > img.ReadOpts.MaxSymbolCount {
		img.Anomalies = append(img.Anomalies, "NumberOfSymbols exceeds configured maximum, truncating")
		count = img.ReadOpts.MaxSymbolCount
	}

	base := int64(img.FileHeader.PointerToSymbolTable)
	stringTableOffset := base + int64(img.FileHeader.NumberOfSymbols)*symbolRecordSize

	strTab := newStringTable()
	if size, err := r.u32(stringTableOffset); err == nil && size >= 4 {
		strTab.size = size
		cur := int64(4)
		for cur < int64(size) {
			s, err := r.cString(stringTableOffset+cur, int64(size)-cur)
			if err != nil {
				break
			}
			strTab.entries[uint32(cur)] = s
			cur += int64(len(s)) + 1
		}
	}
	img.Strings = strTab

	img.Symbols = make([]*Symbol, 0, count)
	i := uint32(0)
	for i < count {
		off := base + int64(i)*symbolRecordSize
		nameRaw, err := r.bytesAt(off, 8)
		if err != nil {
			break
		}
		sym := &Symbol{}
		if nameRaw[0] == 0 && nameRaw[1] == 0 && nameRaw[2] == 0 && nameRaw[3] == 0 {
			sym.isLongName = true
			sym.longNameOffset = leUint32(nameRaw[4:8])
			sym.Name, _ = strTab.Lookup(sym.longNameOffset)
		} else {
			sym.Name, _ = r.fixedASCII(off, 8)
		}
		if sym.Value, err = r.u32(off + 8); err != nil {
			break
		}
		sec, err := r.i16(off + 12)
		if err != nil {
			break
		}
		sym.SectionNumber = SectionNumber(sec)
		if sym.Type, err = r.u16(off + 14); err != nil {
			break
		}
		sc, err := r.u8(off + 16)
		if err != nil {
			break
		}
		sym.StorageClass = StorageClass(sc)
		if sym.NumberOfAuxSymbols, err = r.u8(off + 17); err != nil {
			break
		}
		if sym.NumberOfAuxSymbols > 0 {
			auxLen := int(sym.NumberOfAuxSymbols) * symbolRecordSize
			sym.AuxRaw, _ = r.bytesAt(off+symbolRecordSize, auxLen)
		}

		img.Symbols = append(img.Symbols, sym)
		i += 1 + uint32(sym.NumberOfAuxSymbols)
	}
	return nil
}

// writeSymbolTable emits the symbol table and trailing string table at
// FileHeader.PointerToSymbolTable.
func (img *Image) writeSymbolTable(w *codecWriter) error {
	if img.FileHeader.PointerToSymbolTable == 0 {
		return nil
	}
	for _, sym := range img.Symbols {
		if sym.isLongName {
			if err := w.u32(0); err != nil {
				return err
			}
			if err := w.u32(sym.longNameOffset); err != nil {
				return err
			}
		} else if err := w.fixedASCII(sym.Name, 8); err != nil {
			return err
		}
		if err := w.u32(sym.Value); err != nil {
			return err
		}
		if err := w.i16(int16(sym.SectionNumber)); err != nil {
			return err
		}
		if err := w.u16(sym.Type); err != nil {
			return err
		}
		if err := w.u8(uint8(sym.StorageClass)); err != nil {
			return err
		}
		if err := w.u8(sym.NumberOfAuxSymbols); err != nil {
			return err
		}
		if len(sym.AuxRaw) > 0 {
			if err := w.write(sym.AuxRaw); err != nil {
				return err
			}
		}
	}

	if img.Strings == nil {
		return w.u32(4)
	}
	if err := w.u32(img.Strings.size); err != nil {
		return err
	}
	// Strings are written at their own offsets; a gap left by Remove is
	// zero-filled so later offsets keep pointing at their strings.
	written := uint32(4)
	for _, off := range img.Strings.orderedOffsets() {
		if off > written {
			if err := w.zeroPad(int(off - written)); err != nil {
				return err
			}
			written = off
		}
		s := img.Strings.entries[off]
		if err := w.cString(s); err != nil {
			return err
		}
		written += uint32(len(s)) + 1
	}
	if img.Strings.size > written {
		return w.zeroPad(int(img.Strings.size - written))
	}
	return nil
}

// AddSymbol appends sym to the image's symbol table and keeps
// FileHeader.NumberOfSymbols in sync, mirroring AddSection/AddString.
func (img *Image) AddSymbol(sym *Symbol) error {
	img.Symbols = append(img.Symbols, sym)
	img.FileHeader.NumberOfSymbols += 1 + uint32(sym.NumberOfAuxSymbols)
	return img.maybeRelayout()
}

// RemoveSymbol deletes the symbol at index, which must address a primary
// record (not one consumed by a preceding symbol's aux records).
func (img *Image) RemoveSymbol(index int) error {
	if index < 0 || index >= len(img.Symbols) {
		return ErrSymbolIndexOutOfRange
	}
	removed := img.Symbols[index]
	img.Symbols = append(img.Symbols[:index], img.Symbols[index+1:]...)
	img.FileHeader.NumberOfSymbols -= 1 + uint32(removed.NumberOfAuxSymbols)
	return img.maybeRelayout()
}

// AddString inserts s into the image's string table, creating the table if
// this is the first mutation of a previously read-only image, and returns
// the offset at which it can be looked up (§ mutators, Design Notes string
// table offset convention).
func (img *Image) AddString(s string) (uint32, error) {
	if img.Strings == nil {
		img.Strings = newStringTable()
	}
	return img.Strings.Add(s), nil
}

// RemoveString deletes the string at offset from the string table.
func (img *Image) RemoveString(offset uint32) error {
	if img.Strings == nil {
		return ErrStringOffsetNotFound
	}
	return img.Strings.Remove(offset)
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
