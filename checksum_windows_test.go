// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build windows

package penut

import (
	"os"
	"testing"
)

// TestWindowsChecksumMatchesComputed cross-validates computeChecksum against
// imagehlp.dll's MapFileAndCheckSumW for a real on-disk image. It is
// build-tagged windows (like checksum_windows.go itself) and skipped
// everywhere else, matching the teacher's platform-conditional test style
// for resource/version checks that require a live Windows loader.
func TestWindowsChecksumMatchesComputed(t *testing.T) {
	data := buildMinimalPE32([]byte{0x90, 0x90, 0xc3})
	img, err := ParseBytes(data, nil)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}

	f, err := os.CreateTemp("", "penut-checksum-*.exe")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := img.Write(f); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, want, err := WindowsChecksum(f.Name())
	if err != nil {
		t.Fatalf("WindowsChecksum: %v", err)
	}
	if got := img.Checksum(); got != want {
		t.Fatalf("img.Checksum() = 0x%x, want 0x%x (MapFileAndCheckSumW)", got, want)
	}
}
