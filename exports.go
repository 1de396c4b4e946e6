// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import (
	"encoding/binary"
	"sort"
)

const exportDirectorySize = 40

// ImageExportDirectory is the 40-byte header of the export directory
// (§4.8 "Export directory", IMAGE_EXPORT_DIRECTORY).
type ImageExportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// ExportFunction is one resolved entry of the export address table, merged
// with its name (if any) from the name pointer / ordinal tables.
type ExportFunction struct {
	Ordinal      uint32
	FunctionRVA  uint32
	NameRVA      uint32
	Name         string
	// Forwarder and ForwarderRVA are set when FunctionRVA falls inside the
	// export directory's own extent, meaning this export is forwarded to
	// another module ("OtherDll.OtherExport", §4.8).
	Forwarder    string
	ForwarderRVA uint32
}

// Export is the decoded export directory: the DLL's declared Name plus its
// resolved Functions.
type Export struct {
	Directory ImageExportDirectory
	Name      string
	Functions []ExportFunction
}

// parseExportDirectory decodes data directory 0 (§4.8 Export directory).
func (img *Image) parseExportDirectory() error {
	dir := img.directoryRVA(DirectoryExport)
	if dir.VirtualAddress == 0 {
		return nil
	}
	sec := img.SectionForRVA(dir.VirtualAddress)
	if sec == nil {
		img.Anomalies = append(img.Anomalies, newMalformedDirectory("Export", ErrRvaOutOfRange).Error())
		return nil
	}
	rd, err := sec.ReaderAt(dir.VirtualAddress)
	if err != nil {
		return nil
	}

	var d ImageExportDirectory
	base := dir.VirtualAddress
	var e error
	if d.Characteristics, e = rd.U32(base); e != nil {
		return nil
	}
	if d.TimeDateStamp, e = rd.U32(base + 4); e != nil {
		return nil
	}
	if d.MajorVersion, e = rd.U16(base + 8); e != nil {
		return nil
	}
	if d.MinorVersion, e = rd.U16(base + 10); e != nil {
		return nil
	}
	if d.Name, e = rd.U32(base + 12); e != nil {
		return nil
	}
	if d.Base, e = rd.U32(base + 16); e != nil {
		return nil
	}
	if d.NumberOfFunctions, e = rd.U32(base + 20); e != nil {
		return nil
	}
	if d.NumberOfNames, e = rd.U32(base + 24); e != nil {
		return nil
	}
	if d.AddressOfFunctions, e = rd.U32(base + 28); e != nil {
		return nil
	}
	if d.AddressOfNames, e = rd.U32(base + 32); e != nil {
		return nil
	}
	if d.AddressOfNameOrdinals, e = rd.U32(base + 36); e != nil {
		return nil
	}

	exp := &Export{Directory: d}
	if name, err := img.stringFromRVA(d.Name); err == nil {
		exp.Name = name
	}

	nameByOrdinalIndex := make(map[uint32]string, d.NumberOfNames)
	namesSec := img.SectionForRVA(d.AddressOfNames)
	ordsSec := img.SectionForRVA(d.AddressOfNameOrdinals)
	if namesSec != nil && ordsSec != nil {
		namesRd, _ := namesSec.ReaderAt(d.AddressOfNames)
		ordsRd, _ := ordsSec.ReaderAt(d.AddressOfNameOrdinals)
		for i := uint32(0); i < d.NumberOfNames; i++ {
			nameRVA, e1 := namesRd.U32(d.AddressOfNames + i*4)
			ordIdx, e2 := ordsRd.U16(d.AddressOfNameOrdinals + i*2)
			if e1 != nil || e2 != nil {
				break
			}
			name, err := img.stringFromRVA(nameRVA)
			if err != nil {
				continue
			}
			nameByOrdinalIndex[uint32(ordIdx)] = name
		}
	}

	funcsSec := img.SectionForRVA(d.AddressOfFunctions)
	if funcsSec != nil {
		funcsRd, _ := funcsSec.ReaderAt(d.AddressOfFunctions)
		for i := uint32(0); i < d.NumberOfFunctions; i++ {
			fnRVA, err := funcsRd.U32(d.AddressOfFunctions + i*4)
			if err != nil {
				break
			}
			if fnRVA == 0 {
				continue
			}
			f := ExportFunction{
				Ordinal:     d.Base + i,
				FunctionRVA: fnRVA,
				Name:        nameByOrdinalIndex[i],
			}
			if fnRVA >= dir.VirtualAddress && fnRVA < dir.VirtualAddress+dir.Size {
				f.ForwarderRVA = fnRVA
				if fwd, err := img.stringFromRVA(fnRVA); err == nil {
					f.Forwarder = fwd
				}
			}
			exp.Functions = append(exp.Functions, f)
		}
	}

	img.Export = exp
	return nil
}

// ExportBuilderEntry is one function AddExportSection places in the export
// address table. Set FunctionRVA for a regular export, or Forwarder (e.g.
// "KERNEL32.HeapAlloc") for a forward reference — the two are mutually
// exclusive. Name is optional; an entry with no Name is exported by ordinal
// only and gets no name-pointer-table/ordinal-table slot (§4.8 "Build (emit)
// of an .edata section").
type ExportBuilderEntry struct {
	Name        string
	FunctionRVA uint32
	Forwarder   string
}

// AddExportSection builds a complete .edata section — the 40-byte export
// directory header, export address table, name pointer table, ordinal
// table and backing string blob — from dllName, base (the first ordinal)
// and entries, appends it to the image under sectionName, and points data
// directory 0 at it (§4.8 "Build (emit) of an .edata section", §8 scenario
// 5).
//
// The directory's internal RVAs are self-referential (the name pointer
// table, for instance, points at strings later in the same section), so
// the section is built in two passes: first with placeholder content sized
// correctly so AddSection/UpdateLayout assigns it a real VirtualAddress,
// then rebuilt with that address baked into every RVA.
func (img *Image) AddExportSection(sectionName, dllName string, base uint32, entries []ExportBuilderEntry) (*Section, error) {
	if img.OptHeader == nil {
		return nil, ErrDataDirectoryIndexOutOfRange
	}
	if len(sectionName) > 8 {
		return nil, ErrBadSectionName
	}

	sec := &Section{
		Name:            sectionName,
		Data:            make([]byte, exportSectionSize(dllName, entries)),
		Characteristics: SectionCntInitializedData | SectionMemRead,
	}
	if err := img.AddSection(sec); err != nil {
		return nil, err
	}

	data, dirSize := buildExportDirectory(sec.VirtualAddress, dllName, base, entries)
	sec.Data = data
	if err := img.AddDataDirectory(DirectoryExport, DataDirectory{
		VirtualAddress: sec.VirtualAddress, Size: dirSize,
	}); err != nil {
		return nil, err
	}
	return sec, nil
}

// exportSectionSize computes the exact byte length buildExportDirectory
// will produce for dllName/entries, so the placeholder section
// AddExportSection reserves before layout is sized correctly up front.
func exportSectionSize(dllName string, entries []ExportBuilderEntry) uint32 {
	numFuncs := uint32(len(entries))
	var numNames uint32
	stringsLen := len(dllName) + 1
	for _, e := range entries {
		if e.Name != "" {
			numNames++
			stringsLen += len(e.Name) + 1
		}
		if e.Forwarder != "" {
			stringsLen += len(e.Forwarder) + 1
		}
	}
	return exportDirectorySize + numFuncs*4 + numNames*4 + numNames*2 + uint32(stringsLen)
}

// buildExportDirectory lays out the export directory at virtual address va:
// header, export address table, name pointer table (names sorted ascending,
// per the linker convention of supporting a binary search at load time),
// ordinal table, then the DLL name, export name and forwarder strings. EAT
// slots hold either the export's FunctionRVA or, for a forwarded export,
// the RVA of its forwarder string within this same section — which is what
// makes the parser's VirtualAddress/Size bounds check recognize it as a
// forward reference on re-parse.
func buildExportDirectory(va uint32, dllName string, base uint32, entries []ExportBuilderEntry) ([]byte, uint32) {
	numFuncs := uint32(len(entries))

	type namedEntry struct {
		name     string
		eatIndex uint32
	}
	var named []namedEntry
	for i, e := range entries {
		if e.Name != "" {
			named = append(named, namedEntry{e.Name, uint32(i)})
		}
	}
	sort.Slice(named, func(i, j int) bool { return named[i].name < named[j].name })
	numNames := uint32(len(named))

	eatOff := uint32(exportDirectorySize)
	nptOff := eatOff + numFuncs*4
	ordOff := nptOff + numNames*4
	stringsOff := ordOff + numNames*2

	buf := make([]byte, stringsOff)
	cur := stringsOff
	putString := func(s string) uint32 {
		off := cur
		buf = append(buf, []byte(s)...)
		buf = append(buf, 0)
		cur += uint32(len(s)) + 1
		return off
	}

	dllNameRVA := va + putString(dllName)

	for i, e := range entries {
		fnRVA := e.FunctionRVA
		if e.Forwarder != "" {
			fnRVA = va + putString(e.Forwarder)
		}
		binary.LittleEndian.PutUint32(buf[eatOff+uint32(i)*4:], fnRVA)
	}

	for i, n := range named {
		nameRVA := va + putString(n.name)
		binary.LittleEndian.PutUint32(buf[nptOff+uint32(i)*4:], nameRVA)
		binary.LittleEndian.PutUint16(buf[ordOff+uint32(i)*2:], uint16(n.eatIndex))
	}

	binary.LittleEndian.PutUint32(buf[12:16], dllNameRVA)
	binary.LittleEndian.PutUint32(buf[16:20], base)
	binary.LittleEndian.PutUint32(buf[20:24], numFuncs)
	binary.LittleEndian.PutUint32(buf[24:28], numNames)
	binary.LittleEndian.PutUint32(buf[28:32], va+eatOff)
	binary.LittleEndian.PutUint32(buf[32:36], va+nptOff)
	binary.LittleEndian.PutUint32(buf[36:40], va+ordOff)

	return buf, uint32(len(buf))
}
