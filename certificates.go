// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

// WIN_CERTIFICATE revision values (§4.8 "Attribute certificates").
const (
	WinCertRevision1_0 uint16 = 0x0100
	WinCertRevision2_0 uint16 = 0x0200
)

// WIN_CERTIFICATE certificate type values. PENUT does not parse or validate
// the signature payload itself (Authenticode validation is a non-goal); it
// only preserves the attribute certificate table byte-exact.
const (
	WinCertTypeX509        uint16 = 0x0001
	WinCertTypePKCS7       uint16 = 0x0002
	WinCertTypeReserved1   uint16 = 0x0003
	WinCertTypeTSStackSign uint16 = 0x0004
)

// PEAttributeCertificate is one entry of the attribute certificate table
// referenced by data directory 4 (§4.8). Unlike every other data directory,
// DirectorySecurity's VirtualAddress is a FILE OFFSET rather than an RVA,
// and the table it points to sits outside of any section — it is appended
// after the last section's raw data, each entry padded to an 8-byte
// boundary (§4.8, §9 write path).
type PEAttributeCertificate struct {
	Length          uint32
	Revision        uint16
	CertificateType uint16
	// Data is the opaque certificate payload (for CertificateType PKCS7, a
	// PKCS#7 SignedData blob). PENUT never inspects it.
	Data []byte
}

const winCertificateHeaderSize = 8

// parseCertificateTable walks the attribute certificate table referenced by
// data directory 4. Unlike the RVA-addressed directories, this reads
// directly off the file stream rather than through a section, since the
// certificate table is not mapped into any section's virtual extent.
func (img *Image) parseCertificateTable(r *codecReader) error {
	dir := img.directoryRVA(DirectorySecurity)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil
	}
	maxLen := uint32(0)
	if img.ReadOpts != nil {
		maxLen = img.ReadOpts.MaxCertificateSize
	}

	off := int64(dir.VirtualAddress)
	end := off + int64(dir.Size)
	var certs []PEAttributeCertificate
	for off < end {
		length, e1 := r.u32(off)
		revision, e2 := r.u16(off + 4)
		certType, e3 := r.u16(off + 6)
		if e1 != nil || e2 != nil || e3 != nil {
			img.Anomalies = append(img.Anomalies, newMalformedDirectory("Certificates", ErrTruncatedStream).Error())
			break
		}
		if maxLen > 0 && length > maxLen {
			img.Anomalies = append(img.Anomalies, newMalformedDirectory("Certificates", ErrTruncatedStream).Error())
			break
		}
		if length < winCertificateHeaderSize {
			// The header itself is readable even though its declared
			// length can't hold even the header; keep the fields, leave
			// Data empty, and resynchronize past the header rather than
			// desyncing or hiding every entry after this one (§4.8).
			certs = append(certs, PEAttributeCertificate{
				Length: length, Revision: revision, CertificateType: certType,
			})
			img.Anomalies = append(img.Anomalies, newMalformedDirectory("Certificates", ErrTruncatedStream).Error())
			off = alignUp64(off+winCertificateHeaderSize, 8)
			continue
		}
		data, err := r.bytesAt(off+winCertificateHeaderSize, int(length-winCertificateHeaderSize))
		if err != nil {
			img.Anomalies = append(img.Anomalies, newMalformedDirectory("Certificates", err).Error())
			break
		}
		certs = append(certs, PEAttributeCertificate{
			Length: length, Revision: revision, CertificateType: certType, Data: data,
		})
		off = alignUp64(off+int64(length), 8)
	}
	img.Certificates = certs
	return nil
}

// writeCertificateTable emits the attribute certificate table at the
// writer's current position, 8-byte-aligning each entry, and returns the
// file offset it started at plus the total bytes written — the caller
// patches data directory 4 with these once the table has been placed
// (§4.7 "patch after certificate placement").
func (img *Image) writeCertificateTable(w *codecWriter) (startOffset int64, size uint32, err error) {
	if len(img.Certificates) == 0 {
		return 0, 0, nil
	}
	if err := w.padTo(8); err != nil {
		return 0, 0, err
	}
	start := w.pos
	for _, c := range img.Certificates {
		length := c.Length
		if length == 0 {
			length = winCertificateHeaderSize + uint32(len(c.Data))
		}
		if err := w.u32(length); err != nil {
			return 0, 0, err
		}
		if err := w.u16(c.Revision); err != nil {
			return 0, 0, err
		}
		if err := w.u16(c.CertificateType); err != nil {
			return 0, 0, err
		}
		if err := w.write(c.Data); err != nil {
			return 0, 0, err
		}
		if err := w.padTo(8); err != nil {
			return 0, 0, err
		}
	}
	return start, uint32(w.pos - start), nil
}

// AddCertificate appends c to the attribute certificate table and marks the
// image as needing re-layout so Write places the (possibly now larger)
// table correctly and patches data directory 4 (§ mutators).
func (img *Image) AddCertificate(c PEAttributeCertificate) error {
	if c.Length == 0 {
		c.Length = winCertificateHeaderSize + uint32(len(c.Data))
	}
	img.Certificates = append(img.Certificates, c)
	return img.maybeRelayout()
}
