// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

const delayImportDescriptorSize = 32

// DelayImportDescriptor is one entry of the delay-load import directory
// (§4.8 "Delay-load imports"). Unlike a regular ImportDescriptor, its RVA
// fields are conventionally image-base-relative regardless of the
// Attributes bit, per the de-facto convention every modern linker follows
// (the VC++-documented "RVA-based" bit in Attributes is effectively always
// set; PENUT does not special-case the legacy VA-based form).
type DelayImportDescriptor struct {
	Attributes                 uint32
	NameRVA                    uint32
	Name                       string
	ModuleHandleRVA            uint32
	DelayImportAddressTableRVA uint32
	DelayImportNameTableRVA    uint32
	BoundDelayImportTableRVA   uint32
	UnloadDelayImportTableRVA  uint32
	TimeDateStamp              uint32

	Functions []ImportedFunction
}

// parseDelayImportDirectory walks the delay-load descriptor array
// referenced by data directory 13 (§4.8).
func (img *Image) parseDelayImportDirectory() error {
	dir := img.directoryRVA(DirectoryDelayImport)
	if dir.VirtualAddress == 0 {
		return nil
	}
	sec := img.SectionForRVA(dir.VirtualAddress)
	if sec == nil {
		img.Anomalies = append(img.Anomalies, newMalformedDirectory("DelayImport", ErrRvaOutOfRange).Error())
		return nil
	}
	rd, err := sec.ReaderAt(dir.VirtualAddress)
	if err != nil {
		return nil
	}

	var out []DelayImportDescriptor
	rva := dir.VirtualAddress
	for {
		attrs, e1 := rd.U32(rva)
		nameRVA, e2 := rd.U32(rva + 4)
		handleRVA, e3 := rd.U32(rva + 8)
		iatRVA, e4 := rd.U32(rva + 12)
		intRVA, e5 := rd.U32(rva + 16)
		boundRVA, e6 := rd.U32(rva + 20)
		unloadRVA, e7 := rd.U32(rva + 24)
		timestamp, e8 := rd.U32(rva + 28)
		if e1 != nil || e2 != nil || e3 != nil || e4 != nil || e5 != nil || e6 != nil || e7 != nil || e8 != nil {
			img.Anomalies = append(img.Anomalies, newMalformedDirectory("DelayImport", ErrRvaOutOfRange).Error())
			break
		}
		if attrs == 0 && nameRVA == 0 && handleRVA == 0 && iatRVA == 0 && intRVA == 0 {
			break
		}
		d := DelayImportDescriptor{
			Attributes: attrs, NameRVA: nameRVA, ModuleHandleRVA: handleRVA,
			DelayImportAddressTableRVA: iatRVA, DelayImportNameTableRVA: intRVA,
			BoundDelayImportTableRVA: boundRVA, UnloadDelayImportTableRVA: unloadRVA,
			TimeDateStamp: timestamp,
		}
		if name, err := img.stringFromRVA(nameRVA); err == nil {
			d.Name = name
		}
		d.Functions = img.readThunkArray(intRVA)
		out = append(out, d)
		rva += delayImportDescriptorSize
	}
	img.DelayImports = out
	return nil
}
