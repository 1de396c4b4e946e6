// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import "testing"

func TestSectionContains(t *testing.T) {
	s := &Section{VirtualAddress: 0x1000, VirtualSize: 0x200}
	tests := []struct {
		rva  uint32
		want bool
	}{
		{0x0fff, false},
		{0x1000, true},
		{0x11ff, true},
		{0x1200, false},
	}
	for _, tt := range tests {
		if got := s.Contains(tt.rva); got != tt.want {
			t.Errorf("Contains(0x%x) = %v, want %v", tt.rva, got, tt.want)
		}
	}
}

func TestSectionEntropyUniformIsHigh(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	s := &Section{Data: data}
	if e := s.Entropy(); e < 7.9 {
		t.Fatalf("Entropy() = %f, want ~8.0 for a uniform byte distribution", e)
	}
}

func TestSectionEntropyConstantIsZero(t *testing.T) {
	s := &Section{Data: bytesRepeat(0xAA, 256)}
	if e := s.Entropy(); e != 0 {
		t.Fatalf("Entropy() = %f, want 0 for constant data", e)
	}
}

func TestSectionEntropyEmpty(t *testing.T) {
	s := &Section{}
	if e := s.Entropy(); e != 0 {
		t.Fatalf("Entropy() = %f, want 0 for empty data", e)
	}
}

func TestAddRelocationUpdatesCount(t *testing.T) {
	s := &Section{}
	s.AddRelocation(RelocationEntry{VirtualAddress: 4, Type: RelI386Dir32})
	s.AddRelocation(RelocationEntry{VirtualAddress: 8, Type: RelI386Rel32})
	if s.NumberOfRelocations != 2 {
		t.Fatalf("NumberOfRelocations = %d, want 2", s.NumberOfRelocations)
	}
}

func bytesRepeat(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
