// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build windows

package penut

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modimagehlp             = windows.NewLazySystemDLL("imagehlp.dll")
	procMapFileAndCheckSumW = modimagehlp.NewProc("MapFileAndCheckSumW")
)

// WindowsChecksum computes the checksum of the file at path through the
// real MapFileAndCheckSumW API, for cross-validating computeChecksum
// against the platform's own implementation rather than trusting a from-
// scratch port of the algorithm (§4.10, C10). Windows-only, gated by a
// build tag; on other platforms Image.Checksum's pure-Go implementation is
// the only path.
func WindowsChecksum(path string) (headerSum uint32, checkSum uint32, err error) {
	pathPtr, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0, err
	}
	r1, _, callErr := procMapFileAndCheckSumW.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&headerSum)),
		uintptr(unsafe.Pointer(&checkSum)),
	)
	if r1 != 0 {
		return 0, 0, callErr
	}
	return headerSum, checkSum, nil
}
