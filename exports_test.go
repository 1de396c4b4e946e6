// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import "testing"

// TestAddExportSectionRoundTrip builds an .edata section with a regular
// export and a forwarded export, writes the image out, and re-parses it to
// confirm the forwarder and the address table survive the round trip (§4.8
// "Build (emit) of an .edata section", §8 scenario 5).
func TestAddExportSectionRoundTrip(t *testing.T) {
	data := buildMinimalPE32([]byte{0x90, 0x90, 0xc3})
	img, err := ParseBytes(data, nil)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}

	entries := []ExportBuilderEntry{
		{Name: "Func1", FunctionRVA: 0x2000},
		{Name: "Func2", Forwarder: "KERNEL32.HeapAlloc"},
	}
	if _, err := img.AddExportSection(".edata", "mydll.dll", 1, entries); err != nil {
		t.Fatalf("AddExportSection: %v", err)
	}

	var buf writeSeekBuffer
	if err := img.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	img2, err := ParseBytes(buf.data, nil)
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}

	if img2.Export == nil {
		t.Fatalf("Export is nil after re-parse")
	}
	if img2.Export.Name != "mydll.dll" {
		t.Fatalf("Export.Name = %q, want mydll.dll", img2.Export.Name)
	}
	if len(img2.Export.Functions) != 2 {
		t.Fatalf("len(Functions) = %d, want 2", len(img2.Export.Functions))
	}

	byName := make(map[string]ExportFunction, 2)
	for _, f := range img2.Export.Functions {
		byName[f.Name] = f
	}

	f1, ok := byName["Func1"]
	if !ok {
		t.Fatalf("Func1 missing from re-parsed exports: %+v", img2.Export.Functions)
	}
	if f1.Ordinal != 1 {
		t.Fatalf("Func1.Ordinal = %d, want 1", f1.Ordinal)
	}
	if f1.FunctionRVA != 0x2000 {
		t.Fatalf("Func1.FunctionRVA = 0x%x, want 0x2000", f1.FunctionRVA)
	}
	if f1.Forwarder != "" {
		t.Fatalf("Func1.Forwarder = %q, want empty", f1.Forwarder)
	}

	f2, ok := byName["Func2"]
	if !ok {
		t.Fatalf("Func2 missing from re-parsed exports: %+v", img2.Export.Functions)
	}
	if f2.Ordinal != 2 {
		t.Fatalf("Func2.Ordinal = %d, want 2", f2.Ordinal)
	}
	if f2.Forwarder != "KERNEL32.HeapAlloc" {
		t.Fatalf("Func2.Forwarder = %q, want KERNEL32.HeapAlloc", f2.Forwarder)
	}
	if f2.ForwarderRVA == 0 {
		t.Fatalf("Func2.ForwarderRVA = 0, want non-zero")
	}
}
