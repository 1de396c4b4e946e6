// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import "testing"

func TestComputeChecksumIsDeterministic(t *testing.T) {
	data := buildMinimalPE32([]byte{0x90, 0x90, 0xc3})
	a := computeChecksum(data, -1)
	b := computeChecksum(data, -1)
	if a != b {
		t.Fatalf("computeChecksum not deterministic: %d != %d", a, b)
	}
}

func TestComputeChecksumSkipsChecksumField(t *testing.T) {
	data := buildMinimalPE32([]byte{0x90, 0x90, 0xc3})

	img, err := ParseBytes(data, nil)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	skipOff := img.checksumFieldOffset()

	withZero := computeChecksum(data, skipOff)

	mutated := append([]byte(nil), data...)
	mutated[skipOff] = 0xff
	mutated[skipOff+1] = 0xff
	withNonZero := computeChecksum(mutated, skipOff)

	if withZero != withNonZero {
		t.Fatalf("checksum changed when only the skipped checksum field was mutated: %d != %d", withZero, withNonZero)
	}
}

func TestImageChecksumAddsFileLength(t *testing.T) {
	data := buildMinimalPE32([]byte{0x01, 0x02, 0x03, 0x04})
	img, err := ParseBytes(data, nil)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	sum := img.Checksum()
	if sum == 0 {
		t.Fatalf("Checksum() = 0, want nonzero for nonempty image")
	}
	if n := uint32(len(data)); sum < n || sum-n > 0xffff {
		t.Fatalf("Checksum() = %d, want file length %d plus a 16-bit folded sum", sum, n)
	}
}
