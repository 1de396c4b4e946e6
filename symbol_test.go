// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import "testing"

func TestStringTableOffsetsStartAfterSizeField(t *testing.T) {
	st := newStringTable()
	off := st.Add("hello")
	if off != 4 {
		t.Fatalf("first string offset = %d, want 4 (offsets start after the 4-byte size field)", off)
	}
	got, ok := st.Lookup(4)
	if !ok || got != "hello" {
		t.Fatalf("Lookup(4) = %q, %v, want \"hello\", true", got, ok)
	}
}

func TestStringTableSecondEntryOffset(t *testing.T) {
	st := newStringTable()
	st.Add("ab") // offset 4, consumes 3 bytes (2 + NUL)
	off2 := st.Add("cd")
	if off2 != 7 {
		t.Fatalf("second string offset = %d, want 7", off2)
	}
}

func TestStringTableRemoveUnknownOffset(t *testing.T) {
	st := newStringTable()
	if err := st.Remove(999); err != ErrStringOffsetNotFound {
		t.Fatalf("Remove(unknown) err = %v, want ErrStringOffsetNotFound", err)
	}
}

func TestAddRemoveSymbol(t *testing.T) {
	data := buildMinimalPE32([]byte{0x90})
	img, err := ParseBytes(data, nil)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}

	sym := &Symbol{Name: "_main", StorageClass: StorageClassExternal, SectionNumber: 1}
	if err := img.AddSymbol(sym); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	if len(img.Symbols) != 1 {
		t.Fatalf("len(Symbols) = %d, want 1", len(img.Symbols))
	}
	if img.FileHeader.NumberOfSymbols != 1 {
		t.Fatalf("NumberOfSymbols = %d, want 1", img.FileHeader.NumberOfSymbols)
	}

	if err := img.RemoveSymbol(0); err != nil {
		t.Fatalf("RemoveSymbol: %v", err)
	}
	if len(img.Symbols) != 0 {
		t.Fatalf("len(Symbols) = %d, want 0", len(img.Symbols))
	}

	if err := img.RemoveSymbol(0); err != ErrSymbolIndexOutOfRange {
		t.Fatalf("RemoveSymbol(out of range) err = %v, want ErrSymbolIndexOutOfRange", err)
	}
}

func TestAddStringRemoveString(t *testing.T) {
	data := buildMinimalPE32([]byte{0x90})
	img, err := ParseBytes(data, nil)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}

	off, err := img.AddString("a_very_long_symbol_name")
	if err != nil {
		t.Fatalf("AddString: %v", err)
	}
	if err := img.RemoveString(off); err != nil {
		t.Fatalf("RemoveString: %v", err)
	}
	if err := img.RemoveString(off); err != ErrStringOffsetNotFound {
		t.Fatalf("RemoveString(again) err = %v, want ErrStringOffsetNotFound", err)
	}
}
