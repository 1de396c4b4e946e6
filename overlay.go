// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

// parseOverlay captures whatever trailing bytes sit past the end of the
// last section's mapped raw data (§4.6 overlay). Installers and
// self-extracting archives commonly append a payload there.
//
// A tail shorter than 8 bytes is almost always alignment padding the linker
// left rather than deliberate overlay content, so it is discarded, whatever
// its bytes are: it is neither kept in Image.Overlay nor added to any
// section, and OverlayOffset is set to the stream size — the same <8-byte heuristic
// the teacher's section-bounds handling applies when distinguishing padding
// from data.
func (img *Image) parseOverlay(r *codecReader) error {
	var end int64
	for _, s := range img.Sections {
		if s.SizeOfRawData == 0 {
			continue
		}
		tail := int64(s.PointerToRawData) + int64(s.SizeOfRawData)
		if tail > end {
			end = tail
		}
	}
	if end == 0 {
		end = int64(img.OptHeader.SizeOfHeaders())
	}

	if r.size-end < 8 {
		img.OverlayOffset = r.size
		return nil
	}

	if img.ReadOpts != nil && img.ReadOpts.StripOverlay {
		img.OverlayOffset = end
		return nil
	}

	overlay, err := r.bytesAt(end, int(r.size-end))
	if err != nil {
		return nil
	}
	img.Overlay = overlay
	img.OverlayOffset = end
	return nil
}
