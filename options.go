// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import "github.com/coffimage/penut/internal/plog"

// ReadOptions configures the tolerance and cost limits applied while
// parsing (§3.3 Configuration). A zero-value ReadOptions sets no caps at all
// (every Max* field treats zero as unlimited); start from DefaultReadOptions
// for finite caps and override individual fields — the same convention the
// teacher's cmd/readpe flags use for scan options.
type ReadOptions struct {
	// StripOverlay discards trailing bytes beyond the last section's data
	// instead of capturing them in Image.Overlay. Installers and
	// self-extracting archives commonly append a payload there; set this
	// when only the PE/COFF structure itself matters.
	StripOverlay bool

	// MaxSymbolCount bounds how many COFF symbol table entries are parsed.
	// A corrupt or adversarial NumberOfSymbols field can otherwise drive an
	// unbounded allocation (§4.9, the teacher's MaxDefaultCOFFSymbolsCount
	// guards the same failure mode). Zero means unlimited.
	MaxSymbolCount uint32

	// MaxRelocationEntries bounds how many base relocation entries are
	// parsed in total, across all blocks of the directory, guarding against
	// a corrupt SizeOfBlock. Parsing stops, with an anomaly recorded, once
	// that many entries have been read. Zero means unlimited.
	MaxRelocationEntries uint32

	// MaxCertificateSize bounds how large a single attribute certificate
	// entry's Length field is trusted to be before the parser gives up and
	// records a MalformedDirectoryError instead of reading it. Zero means
	// unlimited.
	MaxCertificateSize uint32

	// Logger receives diagnostic messages during parsing (§3.1). A nil
	// Logger is replaced with plog.Default() in ParseReader.
	Logger *plog.Helper
}

// DefaultReadOptions returns the options ParseReader and Open use when the
// caller passes nil: overlay bytes are kept, and symbol/relocation/
// certificate counts are capped at generous but finite defaults so a
// malformed file can't exhaust memory.
func DefaultReadOptions() *ReadOptions {
	return &ReadOptions{
		StripOverlay:         false,
		MaxSymbolCount:       0x10000,
		MaxRelocationEntries: 0x10000,
		MaxCertificateSize:   0x1000000,
	}
}
