// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

// Optional header magic values (§4.3).
const (
	OptionalHeaderMagicPE32  uint16 = 0x10b
	OptionalHeaderMagicPE32Plus uint16 = 0x20b
	OptionalHeaderMagicROM   uint16 = 0x107
)

// Data directory slots, indices into OptionalHeader.DataDirectories() (§4.4).
const (
	DirectoryExport       = 0
	DirectoryImport       = 1
	DirectoryResource     = 2
	DirectoryException    = 3
	DirectorySecurity     = 4 // Certificates; VirtualAddress here is a FILE OFFSET, not an RVA.
	DirectoryBaseReloc    = 5
	DirectoryDebug        = 6
	DirectoryArchitecture = 7
	DirectoryGlobalPtr    = 8
	DirectoryTLS          = 9
	DirectoryLoadConfig   = 10
	DirectoryBoundImport  = 11
	DirectoryIAT          = 12
	DirectoryDelayImport  = 13
	DirectoryCOMDescriptor = 14
	DirectoryReserved     = 15

	numDataDirectories = 16
)

// Subsystem identifies the subsystem required to run the image (§4.3).
type Subsystem uint16

// Recognized subsystem values (IMAGE_SUBSYSTEM_*).
const (
	SubsystemUnknown                Subsystem = 0
	SubsystemNative                 Subsystem = 1
	SubsystemWindowsGUI             Subsystem = 2
	SubsystemWindowsCUI             Subsystem = 3
	SubsystemOS2CUI                 Subsystem = 5
	SubsystemPosixCUI               Subsystem = 7
	SubsystemWindowsCEGUI           Subsystem = 9
	SubsystemEFIApplication         Subsystem = 10
	SubsystemEFIBootServiceDriver   Subsystem = 11
	SubsystemEFIRuntimeDriver       Subsystem = 12
	SubsystemEFIRom                 Subsystem = 13
	SubsystemXbox                   Subsystem = 14
)

// DllCharacteristics is the set of flags describing DLL loader behavior
// (§4.3).
type DllCharacteristics uint16

// Recognized DLL characteristics flags (IMAGE_DLLCHARACTERISTICS_*).
const (
	DllCharacteristicsHighEntropyVA       DllCharacteristics = 0x0020
	DllCharacteristicsDynamicBase         DllCharacteristics = 0x0040
	DllCharacteristicsForceIntegrity      DllCharacteristics = 0x0080
	DllCharacteristicsNXCompat            DllCharacteristics = 0x0100
	DllCharacteristicsNoIsolation         DllCharacteristics = 0x0200
	DllCharacteristicsNoSEH               DllCharacteristics = 0x0400
	DllCharacteristicsNoBind              DllCharacteristics = 0x0800
	DllCharacteristicsAppContainer        DllCharacteristics = 0x1000
	DllCharacteristicsWDMDriver           DllCharacteristics = 0x2000
	DllCharacteristicsGuardCF             DllCharacteristics = 0x4000
	DllCharacteristicsTerminalServerAware DllCharacteristics = 0x8000
)

// DataDirectory is one 8-byte entry of the data directory array (§4.4).
type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// OptionalHeader is implemented by OptionalHeader32 and OptionalHeader64
// (§5 "Variant-over-magic modeling", Design Notes); there is no ROM
// implementation, and a ROM-magic header is rejected on parse. Rather
// than branch on Is64 at every call site the way a straight port of the
// teacher's `interface{}`-typed NtHeader.OptionalHeader would, callers that
// only need the common subset (layout, checksum, data directories) program
// against this interface; code that needs PE32-only or PE32+-only fields
// (BaseOfData, the 32-vs-64-bit reserve/commit sizes) type-switches once, at
// the point that actually cares.
type OptionalHeader interface {
	Magic() uint16
	AddressOfEntryPoint() uint32
	SetAddressOfEntryPoint(uint32)
	BaseOfCode() uint32
	ImageBaseU64() uint64
	SetImageBaseU64(uint64)
	SectionAlignment() uint32
	FileAlignment() uint32
	SizeOfImage() uint32
	SetSizeOfImage(uint32)
	SizeOfHeaders() uint32
	SetSizeOfHeaders(uint32)
	CheckSum() uint32
	SetCheckSum(uint32)
	Subsystem() Subsystem
	DllCharacteristics() DllCharacteristics
	DataDirectories() []DataDirectory
	SetDataDirectory(i int, d DataDirectory)
	// diskSize is the on-disk byte length of the fixed portion plus
	// len(DataDirectories())*8. On parse the directory count comes from
	// SizeOfOptionalHeader ((size - fixed portion) / 8, capped at 16); the
	// NumberOfRvaAndSizes field is not read, and writeTo emits
	// len(DataDirectories()) in its place.
	diskSize() uint32
	writeTo(w *codecWriter) error
}

// OptionalHeader32 is the PE32 optional header layout (§4.3).
type OptionalHeader32 struct {
	MajorLinkerVersion, MinorLinkerVersion         uint8
	SizeOfCode, SizeOfInitializedData              uint32
	SizeOfUninitializedData                        uint32
	EntryPoint, BaseCode, BaseData                 uint32
	ImageBase                                      uint32
	SecAlign, FileAlign                             uint32
	MajorOSVersion, MinorOSVersion                 uint16
	MajorImageVersion, MinorImageVersion           uint16
	MajorSubsystemVersion, MinorSubsystemVersion   uint16
	Win32VersionValue                              uint32
	ImageSize, HeadersSize                         uint32
	Sum                                            uint32
	Sys                                            Subsystem
	DllChars                                       DllCharacteristics
	StackReserve, StackCommit                      uint32
	HeapReserve, HeapCommit                        uint32
	LoaderFlags                                    uint32
	Dirs                                            []DataDirectory
}

func (h *OptionalHeader32) Magic() uint16                  { return OptionalHeaderMagicPE32 }
func (h *OptionalHeader32) AddressOfEntryPoint() uint32    { return h.EntryPoint }
func (h *OptionalHeader32) SetAddressOfEntryPoint(v uint32) { h.EntryPoint = v }
func (h *OptionalHeader32) BaseOfCode() uint32             { return h.BaseCode }
func (h *OptionalHeader32) ImageBaseU64() uint64           { return uint64(h.ImageBase) }
func (h *OptionalHeader32) SetImageBaseU64(v uint64)       { h.ImageBase = uint32(v) }
func (h *OptionalHeader32) SectionAlignment() uint32       { return h.SecAlign }
func (h *OptionalHeader32) FileAlignment() uint32          { return h.FileAlign }
func (h *OptionalHeader32) SizeOfImage() uint32            { return h.ImageSize }
func (h *OptionalHeader32) SetSizeOfImage(v uint32)        { h.ImageSize = v }
func (h *OptionalHeader32) SizeOfHeaders() uint32          { return h.HeadersSize }
func (h *OptionalHeader32) SetSizeOfHeaders(v uint32)      { h.HeadersSize = v }
func (h *OptionalHeader32) CheckSum() uint32                { return h.Sum }
func (h *OptionalHeader32) SetCheckSum(v uint32)            { h.Sum = v }
func (h *OptionalHeader32) Subsystem() Subsystem            { return h.Sys }
func (h *OptionalHeader32) DllCharacteristics() DllCharacteristics { return h.DllChars }
func (h *OptionalHeader32) DataDirectories() []DataDirectory { return h.Dirs }
func (h *OptionalHeader32) SetDataDirectory(i int, d DataDirectory) {
	for i >= len(h.Dirs) {
		h.Dirs = append(h.Dirs, DataDirectory{})
	}
	h.Dirs[i] = d
}
func (h *OptionalHeader32) diskSize() uint32 { return 96 + uint32(len(h.Dirs))*8 }

func (h *OptionalHeader32) writeTo(w *codecWriter) error {
	if err := w.u16(h.Magic()); err != nil {
		return err
	}
	fields8 := []uint8{h.MajorLinkerVersion, h.MinorLinkerVersion}
	for _, v := range fields8 {
		if err := w.u8(v); err != nil {
			return err
		}
	}
	fields32 := []uint32{
		h.SizeOfCode, h.SizeOfInitializedData, h.SizeOfUninitializedData,
		h.EntryPoint, h.BaseCode, h.BaseData, h.ImageBase, h.SecAlign, h.FileAlign,
	}
	for _, v := range fields32 {
		if err := w.u32(v); err != nil {
			return err
		}
	}
	fields16 := []uint16{
		h.MajorOSVersion, h.MinorOSVersion, h.MajorImageVersion, h.MinorImageVersion,
		h.MajorSubsystemVersion, h.MinorSubsystemVersion,
	}
	for _, v := range fields16 {
		if err := w.u16(v); err != nil {
			return err
		}
	}
	if err := w.u32(h.Win32VersionValue); err != nil {
		return err
	}
	if err := w.u32(h.ImageSize); err != nil {
		return err
	}
	if err := w.u32(h.HeadersSize); err != nil {
		return err
	}
	if err := w.u32(h.Sum); err != nil {
		return err
	}
	if err := w.u16(uint16(h.Sys)); err != nil {
		return err
	}
	if err := w.u16(uint16(h.DllChars)); err != nil {
		return err
	}
	fields32b := []uint32{h.StackReserve, h.StackCommit, h.HeapReserve, h.HeapCommit, h.LoaderFlags}
	for _, v := range fields32b {
		if err := w.u32(v); err != nil {
			return err
		}
	}
	if err := w.u32(uint32(len(h.Dirs))); err != nil {
		return err
	}
	for _, d := range h.Dirs {
		if err := w.u32(d.VirtualAddress); err != nil {
			return err
		}
		if err := w.u32(d.Size); err != nil {
			return err
		}
	}
	return nil
}

// OptionalHeader64 is the PE32+ optional header layout. It drops BaseOfData
// and widens ImageBase plus the four stack/heap reserve/commit fields to
// 64 bits relative to OptionalHeader32 (§4.3).
type OptionalHeader64 struct {
	MajorLinkerVersion, MinorLinkerVersion         uint8
	SizeOfCode, SizeOfInitializedData              uint32
	SizeOfUninitializedData                        uint32
	EntryPoint, BaseCode                           uint32
	ImageBase                                      uint64
	SecAlign, FileAlign                             uint32
	MajorOSVersion, MinorOSVersion                 uint16
	MajorImageVersion, MinorImageVersion           uint16
	MajorSubsystemVersion, MinorSubsystemVersion   uint16
	Win32VersionValue                              uint32
	ImageSize, HeadersSize                         uint32
	Sum                                            uint32
	Sys                                            Subsystem
	DllChars                                       DllCharacteristics
	StackReserve, StackCommit                      uint64
	HeapReserve, HeapCommit                        uint64
	LoaderFlags                                    uint32
	Dirs                                            []DataDirectory
}

func (h *OptionalHeader64) Magic() uint16                  { return OptionalHeaderMagicPE32Plus }
func (h *OptionalHeader64) AddressOfEntryPoint() uint32    { return h.EntryPoint }
func (h *OptionalHeader64) SetAddressOfEntryPoint(v uint32) { h.EntryPoint = v }
func (h *OptionalHeader64) BaseOfCode() uint32             { return h.BaseCode }
func (h *OptionalHeader64) ImageBaseU64() uint64           { return h.ImageBase }
func (h *OptionalHeader64) SetImageBaseU64(v uint64)       { h.ImageBase = v }
func (h *OptionalHeader64) SectionAlignment() uint32       { return h.SecAlign }
func (h *OptionalHeader64) FileAlignment() uint32          { return h.FileAlign }
func (h *OptionalHeader64) SizeOfImage() uint32            { return h.ImageSize }
func (h *OptionalHeader64) SetSizeOfImage(v uint32)        { h.ImageSize = v }
func (h *OptionalHeader64) SizeOfHeaders() uint32          { return h.HeadersSize }
func (h *OptionalHeader64) SetSizeOfHeaders(v uint32)      { h.HeadersSize = v }
func (h *OptionalHeader64) CheckSum() uint32                { return h.Sum }
func (h *OptionalHeader64) SetCheckSum(v uint32)            { h.Sum = v }
func (h *OptionalHeader64) Subsystem() Subsystem            { return h.Sys }
func (h *OptionalHeader64) DllCharacteristics() DllCharacteristics { return h.DllChars }
func (h *OptionalHeader64) DataDirectories() []DataDirectory { return h.Dirs }
func (h *OptionalHeader64) SetDataDirectory(i int, d DataDirectory) {
	for i >= len(h.Dirs) {
		h.Dirs = append(h.Dirs, DataDirectory{})
	}
	h.Dirs[i] = d
}
func (h *OptionalHeader64) diskSize() uint32 { return 112 + uint32(len(h.Dirs))*8 }

func (h *OptionalHeader64) writeTo(w *codecWriter) error {
	if err := w.u16(h.Magic()); err != nil {
		return err
	}
	if err := w.u8(h.MajorLinkerVersion); err != nil {
		return err
	}
	if err := w.u8(h.MinorLinkerVersion); err != nil {
		return err
	}
	fields32 := []uint32{h.SizeOfCode, h.SizeOfInitializedData, h.SizeOfUninitializedData, h.EntryPoint, h.BaseCode}
	for _, v := range fields32 {
		if err := w.u32(v); err != nil {
			return err
		}
	}
	if err := w.u64(h.ImageBase); err != nil {
		return err
	}
	if err := w.u32(h.SecAlign); err != nil {
		return err
	}
	if err := w.u32(h.FileAlign); err != nil {
		return err
	}
	fields16 := []uint16{
		h.MajorOSVersion, h.MinorOSVersion, h.MajorImageVersion, h.MinorImageVersion,
		h.MajorSubsystemVersion, h.MinorSubsystemVersion,
	}
	for _, v := range fields16 {
		if err := w.u16(v); err != nil {
			return err
		}
	}
	if err := w.u32(h.Win32VersionValue); err != nil {
		return err
	}
	if err := w.u32(h.ImageSize); err != nil {
		return err
	}
	if err := w.u32(h.HeadersSize); err != nil {
		return err
	}
	if err := w.u32(h.Sum); err != nil {
		return err
	}
	if err := w.u16(uint16(h.Sys)); err != nil {
		return err
	}
	if err := w.u16(uint16(h.DllChars)); err != nil {
		return err
	}
	fields64 := []uint64{h.StackReserve, h.StackCommit, h.HeapReserve, h.HeapCommit}
	for _, v := range fields64 {
		if err := w.u64(v); err != nil {
			return err
		}
	}
	if err := w.u32(h.LoaderFlags); err != nil {
		return err
	}
	if err := w.u32(uint32(len(h.Dirs))); err != nil {
		return err
	}
	for _, d := range h.Dirs {
		if err := w.u32(d.VirtualAddress); err != nil {
			return err
		}
		if err := w.u32(d.Size); err != nil {
			return err
		}
	}
	return nil
}

// parseOptionalHeader dispatches on the magic word at img.optionalHeaderOffset
// to build an OptionalHeader32 or OptionalHeader64, per the variant-over-magic
// decision in Design Notes (§5). The ROM variant (magic 0x107) is not
// modeled: like any other unknown magic it is rejected with
// ErrUnsupportedOptionalHeaderMagic.
func (img *Image) parseOptionalHeader(r *codecReader) error {
	off := img.optionalHeaderOffset
	declaredSize := int64(img.FileHeader.SizeOfOptionalHeader)
	if declaredSize == 0 {
		// Object files and some minimal images omit the optional header
		// entirely; there is nothing more to parse.
		return nil
	}
	magic, err := r.u16(off)
	if err != nil {
		return err
	}

	numDirs := func(fixedSize int64) int {
		n := (declaredSize - fixedSize) / 8
		if n < 0 {
			n = 0
		}
		if n > numDataDirectories {
			n = numDataDirectories
		}
		return int(n)
	}

	switch magic {
	case OptionalHeaderMagicPE32:
		h := &OptionalHeader32{}
		if h.MajorLinkerVersion, err = r.u8(off + 2); err != nil {
			return err
		}
		if h.MinorLinkerVersion, err = r.u8(off + 3); err != nil {
			return err
		}
		if h.SizeOfCode, err = r.u32(off + 4); err != nil {
			return err
		}
		if h.SizeOfInitializedData, err = r.u32(off + 8); err != nil {
			return err
		}
		if h.SizeOfUninitializedData, err = r.u32(off + 12); err != nil {
			return err
		}
		if h.EntryPoint, err = r.u32(off + 16); err != nil {
			return err
		}
		if h.BaseCode, err = r.u32(off + 20); err != nil {
			return err
		}
		if h.BaseData, err = r.u32(off + 24); err != nil {
			return err
		}
		if h.ImageBase, err = r.u32(off + 28); err != nil {
			return err
		}
		if h.SecAlign, err = r.u32(off + 32); err != nil {
			return err
		}
		if h.FileAlign, err = r.u32(off + 36); err != nil {
			return err
		}
		if h.MajorOSVersion, err = r.u16(off + 40); err != nil {
			return err
		}
		if h.MinorOSVersion, err = r.u16(off + 42); err != nil {
			return err
		}
		if h.MajorImageVersion, err = r.u16(off + 44); err != nil {
			return err
		}
		if h.MinorImageVersion, err = r.u16(off + 46); err != nil {
			return err
		}
		if h.MajorSubsystemVersion, err = r.u16(off + 48); err != nil {
			return err
		}
		if h.MinorSubsystemVersion, err = r.u16(off + 50); err != nil {
			return err
		}
		if h.Win32VersionValue, err = r.u32(off + 52); err != nil {
			return err
		}
		if h.ImageSize, err = r.u32(off + 56); err != nil {
			return err
		}
		if h.HeadersSize, err = r.u32(off + 60); err != nil {
			return err
		}
		if h.Sum, err = r.u32(off + 64); err != nil {
			return err
		}
		var sub, dll uint16
		if sub, err = r.u16(off + 68); err != nil {
			return err
		}
		h.Sys = Subsystem(sub)
		if dll, err = r.u16(off + 70); err != nil {
			return err
		}
		h.DllChars = DllCharacteristics(dll)
		if h.StackReserve, err = r.u32(off + 72); err != nil {
			return err
		}
		if h.StackCommit, err = r.u32(off + 76); err != nil {
			return err
		}
		if h.HeapReserve, err = r.u32(off + 80); err != nil {
			return err
		}
		if h.HeapCommit, err = r.u32(off + 84); err != nil {
			return err
		}
		if h.LoaderFlags, err = r.u32(off + 88); err != nil {
			return err
		}
		n := numDirs(96)
		h.Dirs = make([]DataDirectory, n)
		for i := 0; i < n; i++ {
			base := off + 96 + int64(i)*8
			if h.Dirs[i].VirtualAddress, err = r.u32(base); err != nil {
				return err
			}
			if h.Dirs[i].Size, err = r.u32(base + 4); err != nil {
				return err
			}
		}
		img.Is64 = false
		img.OptHeader = h

	case OptionalHeaderMagicPE32Plus:
		h := &OptionalHeader64{}
		if h.MajorLinkerVersion, err = r.u8(off + 2); err != nil {
			return err
		}
		if h.MinorLinkerVersion, err = r.u8(off + 3); err != nil {
			return err
		}
		if h.SizeOfCode, err = r.u32(off + 4); err != nil {
			return err
		}
		if h.SizeOfInitializedData, err = r.u32(off + 8); err != nil {
			return err
		}
		if h.SizeOfUninitializedData, err = r.u32(off + 12); err != nil {
			return err
		}
		if h.EntryPoint, err = r.u32(off + 16); err != nil {
			return err
		}
		if h.BaseCode, err = r.u32(off + 20); err != nil {
			return err
		}
		if h.ImageBase, err = r.u64(off + 24); err != nil {
			return err
		}
		if h.SecAlign, err = r.u32(off + 32); err != nil {
			return err
		}
		if h.FileAlign, err = r.u32(off + 36); err != nil {
			return err
		}
		if h.MajorOSVersion, err = r.u16(off + 40); err != nil {
			return err
		}
		if h.MinorOSVersion, err = r.u16(off + 42); err != nil {
			return err
		}
		if h.MajorImageVersion, err = r.u16(off + 44); err != nil {
			return err
		}
		if h.MinorImageVersion, err = r.u16(off + 46); err != nil {
			return err
		}
		if h.MajorSubsystemVersion, err = r.u16(off + 48); err != nil {
			return err
		}
		if h.MinorSubsystemVersion, err = r.u16(off + 50); err != nil {
			return err
		}
		if h.Win32VersionValue, err = r.u32(off + 52); err != nil {
			return err
		}
		if h.ImageSize, err = r.u32(off + 56); err != nil {
			return err
		}
		if h.HeadersSize, err = r.u32(off + 60); err != nil {
			return err
		}
		if h.Sum, err = r.u32(off + 64); err != nil {
			return err
		}
		var sub, dll uint16
		if sub, err = r.u16(off + 68); err != nil {
			return err
		}
		h.Sys = Subsystem(sub)
		if dll, err = r.u16(off + 70); err != nil {
			return err
		}
		h.DllChars = DllCharacteristics(dll)
		if h.StackReserve, err = r.u64(off + 72); err != nil {
			return err
		}
		if h.StackCommit, err = r.u64(off + 80); err != nil {
			return err
		}
		if h.HeapReserve, err = r.u64(off + 88); err != nil {
			return err
		}
		if h.HeapCommit, err = r.u64(off + 96); err != nil {
			return err
		}
		if h.LoaderFlags, err = r.u32(off + 104); err != nil {
			return err
		}
		n := numDirs(112)
		h.Dirs = make([]DataDirectory, n)
		for i := 0; i < n; i++ {
			base := off + 112 + int64(i)*8
			if h.Dirs[i].VirtualAddress, err = r.u32(base); err != nil {
				return err
			}
			if h.Dirs[i].Size, err = r.u32(base + 4); err != nil {
				return err
			}
		}
		img.Is64 = true
		img.OptHeader = h

	default:
		return ErrUnsupportedOptionalHeaderMagic
	}

	if err := img.validateImageBase(); err != nil {
		img.Anomalies = append(img.Anomalies, err.Error())
	}
	return nil
}

// validateImageBase checks the two ImageBase constraints the teacher's
// ParseNTHeader enforced as hard errors; PENUT downgrades both to anomalies
// so that malformed-but-parseable images still round-trip (§7 partial
// parses never abort).
func (img *Image) validateImageBase() error {
	base := img.OptHeader.ImageBaseU64()
	if base%0x10000 != 0 {
		return ErrInvalidImageSignature
	}
	limit := uint64(0x80000000)
	if img.Is64 {
		limit = 0xffff080000000000
	}
	if base+uint64(img.OptHeader.SizeOfImage()) >= limit {
		return ErrInvalidImageSignature
	}
	return nil
}

// directoryRVA returns the RVA/size pair for data directory index i, or the
// zero value if the header declares fewer directories than that.
func (img *Image) directoryRVA(index int) DataDirectory {
	if img.OptHeader == nil {
		return DataDirectory{}
	}
	dirs := img.OptHeader.DataDirectories()
	if index < 0 || index >= len(dirs) {
		return DataDirectory{}
	}
	return dirs[index]
}
