// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const (
	ordinalFlag32 = uint32(0x80000000)
	ordinalFlag64 = uint64(0x8000000000000000)
	importDescriptorSize = 20
)

// ImportDescriptor is one entry of the import directory table: the import
// information for a single DLL the image depends on (§3/§4.8 "Import
// directory"). The array is terminated by an all-zero entry, which is not
// itself represented in Image.Imports.
type ImportDescriptor struct {
	// OriginalFirstThunk is the RVA of the import lookup table (ILT), the
	// unbound name/ordinal array. Zero if the linker omitted it.
	OriginalFirstThunk uint32
	TimeDateStamp      uint32
	ForwarderChain     uint32
	// Name is the decoded DLL name; NameRVA is its backing RVA.
	Name    string
	NameRVA uint32
	// FirstThunk is the RVA of the import address table (IAT), overwritten
	// in place by the loader at bind time.
	FirstThunk uint32

	Functions []ImportedFunction
}

// ImportedFunction is one resolved entry of an import (or delay-import)
// thunk array, decoded from either the ILT or, if absent, the IAT.
type ImportedFunction struct {
	Name      string
	Hint      uint16
	ByOrdinal bool
	Ordinal   uint16
	// ThunkRVA is the RVA of this entry's slot in the thunk array it was
	// read from, the address AddImportedFunction-equivalent mutators would
	// need to patch on bind.
	ThunkRVA uint32
}

// parseImportDirectory walks the import descriptor array referenced by data
// directory 1 (§4.8 Import directory).
func (img *Image) parseImportDirectory() error {
	dir := img.directoryRVA(DirectoryImport)
	if dir.VirtualAddress == 0 {
		return nil
	}
	sec := img.SectionForRVA(dir.VirtualAddress)
	if sec == nil {
		img.Anomalies = append(img.Anomalies, newMalformedDirectory("Import", ErrRvaOutOfRange).Error())
		return nil
	}
	rd, err := sec.ReaderAt(dir.VirtualAddress)
	if err != nil {
		return nil
	}

	var descriptors []ImportDescriptor
	rva := dir.VirtualAddress
	for {
		ilt, e1 := rd.U32(rva)
		timestamp, e2 := rd.U32(rva + 4)
		fwd, e3 := rd.U32(rva + 8)
		nameRVA, e4 := rd.U32(rva + 12)
		iat, e5 := rd.U32(rva + 16)
		if e1 != nil || e2 != nil || e3 != nil || e4 != nil || e5 != nil {
			img.Anomalies = append(img.Anomalies, newMalformedDirectory("Import", ErrRvaOutOfRange).Error())
			break
		}
		if ilt == 0 && timestamp == 0 && fwd == 0 && nameRVA == 0 && iat == 0 {
			break
		}
		d := ImportDescriptor{
			OriginalFirstThunk: ilt, TimeDateStamp: timestamp, ForwarderChain: fwd,
			NameRVA: nameRVA, FirstThunk: iat,
		}
		if name, err := img.stringFromRVA(nameRVA); err == nil {
			d.Name = name
		}
		thunkRVA := ilt
		if thunkRVA == 0 {
			thunkRVA = iat
		}
		d.Functions = img.readThunkArray(thunkRVA)
		descriptors = append(descriptors, d)
		rva += importDescriptorSize
	}
	img.Imports = descriptors
	return nil
}

// readThunkArray decodes a zero-terminated import lookup/address table
// starting at rva, handling the PE32 vs PE32+ ordinal-flag bit width
// difference (§4.8).
func (img *Image) readThunkArray(rva uint32) []ImportedFunction {
	if rva == 0 {
		return nil
	}
	sec := img.SectionForRVA(rva)
	if sec == nil {
		return nil
	}
	rd, err := sec.ReaderAt(rva)
	if err != nil {
		return nil
	}

	var out []ImportedFunction
	cur := rva
	thunkSize := uint32(4)
	if img.Is64 {
		thunkSize = 8
	}
	for {
		var raw uint64
		var e error
		if img.Is64 {
			raw, e = rd.U64(cur)
		} else {
			var v32 uint32
			v32, e = rd.U32(cur)
			raw = uint64(v32)
		}
		if e != nil || raw == 0 {
			break
		}
		f := ImportedFunction{ThunkRVA: cur}
		if img.Is64 && raw&ordinalFlag64 != 0 {
			f.ByOrdinal = true
			f.Ordinal = uint16(raw & 0xffff)
		} else if !img.Is64 && uint32(raw)&ordinalFlag32 != 0 {
			f.ByOrdinal = true
			f.Ordinal = uint16(raw & 0xffff)
		} else {
			nameRVA := uint32(raw)
			if hintNameSec := img.SectionForRVA(nameRVA); hintNameSec != nil {
				if hrd, err := hintNameSec.ReaderAt(nameRVA); err == nil {
					if hint, err := hrd.U16(nameRVA); err == nil {
						f.Hint = hint
					}
				}
				if name, err := img.stringFromRVA(nameRVA + 2); err == nil {
					f.Name = name
				}
			}
		}
		out = append(out, f)
		cur += thunkSize
	}
	return out
}

// ImportHash computes the "imphash" of the image: the MD5 of the
// lower-cased, comma-joined `dllname.importname` (or `dllname.ord42` for
// ordinal-only imports) sequence across every import descriptor, in
// declaration order. It is a read-only derived diagnostic used to cluster
// samples that import the same APIs the same way; it plays no part in the
// write path and has no bearing on round-trip fidelity.
func (img *Image) ImportHash() string {
	var parts []string
	for _, d := range img.Imports {
		dll := strings.ToLower(strings.TrimSuffix(d.Name, ".dll"))
		for _, f := range d.Functions {
			if f.ByOrdinal {
				parts = append(parts, fmt.Sprintf("%s.ord%s", dll, strconv.Itoa(int(f.Ordinal))))
				continue
			}
			parts = append(parts, fmt.Sprintf("%s.%s", dll, strings.ToLower(f.Name)))
		}
	}
	sum := md5.Sum([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])
}

// Import directory contents live inside a section's raw bytes, which
// writeSectionBodies emits verbatim; there is no separate import-directory
// emit step. A mutator that wants to change imports edits the owning
// Section.Data directly (or calls UpdateLayout after AddSection to grow
// room for a new one) rather than going through a structured setter, since
// the descriptor array, thunk tables, hint/name records and DLL name
// strings are all independently offset within that section and relocating
// just one of them would require a targeted re-layout this package does
// not attempt (§9 design notes: mutation is byte-level within existing
// section capacity; growing a directory is done via AddSection + manual
// byte placement, not a directory-specific builder).
