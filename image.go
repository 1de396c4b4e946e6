// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package penut implements byte-exact parsing, inspection, mutation and
// re-emission of Portable Executable images and COFF object files.
package penut

import (
	"io"

	"github.com/coffimage/penut/internal/plog"
)

// Image is the parsed, mutable in-memory representation of a PE/COFF file
// (§5 Data model, C7). It aggregates every component the parser
// understands; components reference each other through explicit
// parameters (e.g. RelocationTypeName(img.FileHeader.Machine, ...)) rather
// than back-pointers to the owning Image, per Design Notes "avoid owning
// back-references" — Section and Symbol values stay valid and comparable
// independent of which Image they came from.
type Image struct {
	DosHeader    DosHeader
	DosStubBytes []byte
	Rich         *RichHeader

	FileHeader FileHeader
	OptHeader  OptionalHeader
	Is64       bool

	Sections []*Section

	Symbols []*Symbol
	Strings *StringTable

	Export          *Export
	Imports         []ImportDescriptor
	DelayImports    []DelayImportDescriptor
	BaseRelocations []BaseRelocationBlock
	Certificates    []PEAttributeCertificate

	Overlay       []byte
	OverlayOffset int64

	// Anomalies accumulates non-fatal parse diagnostics (malformed
	// directories, out-of-range fields recovered from, ...) instead of
	// aborting the parse (§7 "parse never aborts on a single bad field").
	Anomalies []string

	ReadOpts *ReadOptions
	logger   *plog.Helper

	peHeaderOffset       int64
	optionalHeaderOffset int64
	suspendDepth         int
	needsLayout          bool

	closer io.Closer
}

// ParseReader parses a PE/COFF image from r, which must expose size bytes
// of random-access content (§5 External interfaces, C7). opts may be nil,
// in which case DefaultReadOptions() is used.
//
// Parsing proceeds through the fixed component order the format itself
// imposes: DOS header and stub, PE signature and COFF file header (skipped
// for a bare object file, whose FileHeader opens the stream directly),
// optional header (dispatching on its magic, absent entirely for an object
// file), section table and bodies, symbol and string tables, then the data
// directories that live inside section data (exports, imports, delay
// imports, base relocations) and the one that doesn't (certificates),
// applicable only to the image form. A malformed directory never aborts the
// overall parse — see MalformedDirectoryError and Image.Anomalies.
//
// A stream with no DOS signature is assumed to be a bare object file only
// if its first two bytes are a Machine value PENUT recognizes; otherwise
// ParseReader reports ErrInvalidImageSignature rather than silently trying
// to parse whatever garbage happens to be there as a FileHeader.
func ParseReader(r io.ReaderAt, size int64, opts *ReadOptions) (*Image, error) {
	if opts == nil {
		opts = DefaultReadOptions()
	}
	if opts.Logger == nil {
		opts.Logger = plog.Default()
	}

	img := &Image{ReadOpts: opts, logger: opts.Logger}
	cr := newCodecReader(r, size)

	magic, err := cr.u16be(0)
	if err != nil {
		return nil, err
	}

	if swap16(magic) == ImageDOSSignature {
		if err := img.parseDOSHeader(cr); err != nil {
			return nil, err
		}
		img.parseRichHeader()

		if err := img.parsePESignatureAndFileHeader(cr); err != nil {
			return nil, err
		}
	} else if machine, err2 := cr.u16(0); err2 == nil && isRecognizedMachine(Machine(machine)) {
		// No DOS signature, but a recognized Machine value sits where a
		// bare object file's FileHeader begins: §3, §6 C2, §8 scenario 4
		// "Object-file round-trip". Anything else is neither form.
		if err := img.parseObjectFileHeader(cr); err != nil {
			return nil, err
		}
	} else {
		return nil, ErrInvalidImageSignature
	}

	if err := img.parseOptionalHeader(cr); err != nil {
		return nil, err
	}
	if err := img.parseSectionTable(cr); err != nil {
		return nil, err
	}
	if err := img.parseSymbolTable(cr); err != nil {
		return nil, err
	}

	if img.OptHeader != nil {
		if err := img.parseExportDirectory(); err != nil {
			img.logger.Warnf("export directory: %v", err)
		}
		if err := img.parseImportDirectory(); err != nil {
			img.logger.Warnf("import directory: %v", err)
		}
		if err := img.parseDelayImportDirectory(); err != nil {
			img.logger.Warnf("delay import directory: %v", err)
		}
		if err := img.parseBaseRelocationDirectory(); err != nil {
			img.logger.Warnf("base relocation directory: %v", err)
		}
		if err := img.parseCertificateTable(cr); err != nil {
			img.logger.Warnf("certificate table: %v", err)
		}
		if err := img.parseOverlay(cr); err != nil {
			img.logger.Warnf("overlay: %v", err)
		}
	}

	return img, nil
}

// Write re-emits the image to w in full: DOS header and stub, PE signature
// and COFF file header, optional header, section table, section bodies
// (raw data, relocations, line numbers), symbol and string tables, and
// finally the attribute certificate table, patching the certificate data
// directory afterward since its placement (and therefore its RVA/size, or
// rather file offset/size) is only known once the table has actually been
// written (§4.7, §9 write path).
func (img *Image) Write(w io.WriteSeeker) error {
	if img.needsLayout {
		if err := img.UpdateLayout(); err != nil {
			return err
		}
	}

	cw := newCodecWriter(w)
	if img.peHeaderOffset != 0 {
		if err := img.writeDOSHeader(cw); err != nil {
			return err
		}
	}
	if err := img.writeFileHeader(cw); err != nil {
		return err
	}
	if img.OptHeader != nil {
		if err := img.OptHeader.writeTo(cw); err != nil {
			return err
		}
	}
	if err := img.writeSectionTable(cw); err != nil {
		return err
	}
	if err := cw.padTo(img.fileAlignment()); err != nil {
		return err
	}
	if err := img.writeSectionBodies(cw); err != nil {
		return err
	}
	if err := img.writeSymbolTable(cw); err != nil {
		return err
	}

	if len(img.Certificates) > 0 {
		certOffset, certSize, err := img.writeCertificateTable(cw)
		if err != nil {
			return err
		}
		if img.OptHeader != nil {
			img.OptHeader.SetDataDirectory(DirectorySecurity, DataDirectory{
				VirtualAddress: uint32(certOffset), Size: certSize,
			})
			if err := img.patchDataDirectory(cw, DirectorySecurity); err != nil {
				return err
			}
		}
	}

	return nil
}

// fileAlignment returns the optional header's FileAlignment, or 0 if there
// is no optional header. A COFF object file has no file alignment at all —
// §4.9 calls this out explicitly: "no alignment adjustment" — so sections
// pack back to back with no padding between them.
func (img *Image) fileAlignment() uint32 {
	if img.OptHeader == nil {
		return 0
	}
	if a := img.OptHeader.FileAlignment(); a != 0 {
		return a
	}
	return 0x200
}

// patchDataDirectory rewinds cw to patch a single already-emitted data
// directory entry in place, then restores the writer's position — the
// rewind-to-patch pattern §4.7 calls for when the certificate table's
// offset/size become known only after it is written.
func (img *Image) patchDataDirectory(cw *codecWriter, index int) error {
	saved := cw.pos
	dirsBase := img.optionalHeaderOffset + int64(img.OptHeader.diskSize()) - int64(len(img.OptHeader.DataDirectories()))*8
	entryOffset := dirsBase + int64(index)*8
	if err := cw.seekTo(entryOffset); err != nil {
		return err
	}
	d := img.OptHeader.DataDirectories()[index]
	if err := cw.u32(d.VirtualAddress); err != nil {
		return err
	}
	if err := cw.u32(d.Size); err != nil {
		return err
	}
	return cw.seekTo(saved)
}

// SuspendLayout defers automatic re-layout triggered by mutators until a
// matching ResumeLayout, so a batch of edits (several AddSection calls, for
// instance) only pays the recompute cost once (§ concurrency model,
// external interfaces).
func (img *Image) SuspendLayout() { img.suspendDepth++ }

// ResumeLayout re-enables automatic re-layout. If any mutator ran while
// suspended, it runs UpdateLayout once, immediately.
func (img *Image) ResumeLayout() error {
	if img.suspendDepth > 0 {
		img.suspendDepth--
	}
	if img.suspendDepth == 0 && img.needsLayout {
		return img.UpdateLayout()
	}
	return nil
}

// maybeRelayout is called by every mutator; it either runs UpdateLayout
// immediately or marks the image dirty for the next ResumeLayout/Write,
// depending on whether layout is currently suspended.
func (img *Image) maybeRelayout() error {
	img.needsLayout = true
	if img.suspendDepth > 0 {
		return nil
	}
	return img.UpdateLayout()
}

// AddDataDirectory overwrites data directory index with d. Growing
// NumberOfRvaAndSizes beyond 16 is rejected; shrinking it is allowed (some
// tools emit fewer than 16 and rely on the unlisted ones reading as zero).
func (img *Image) AddDataDirectory(index int, d DataDirectory) error {
	if img.OptHeader == nil || index < 0 || index >= numDataDirectories {
		return ErrDataDirectoryIndexOutOfRange
	}
	img.OptHeader.SetDataDirectory(index, d)
	return img.maybeRelayout()
}
