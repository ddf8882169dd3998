// Copyright (C) 2026 The obsmgr authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package fitsio reads and writes the subset of FITS the reduction pipeline
// produces and consumes: 8 and 16-bit integer images with one or more
// planes, ordered headers, and a binary source-match table sidecar.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
package fitsio

import (
	"github.com/astrolith/obsmgr/internal/pixel"
)

const blockSize = 2880 // FITS header and data unit block size
const cardSize  = 80   // FITS header card size

// A frame: the unit the pipeline passes between stages. One or more pixel
// planes plus the ordered header. Grids are owned exclusively by the step
// that produced them; a frame re-read from disk is a new instance.
type Frame struct {
	FileName string
	Header   *Header
	Grids    []*pixel.Grid
}

func NewFrame(grids []*pixel.Grid, header *Header) *Frame {
	if header==nil { header=NewHeader() }
	return &Frame{Header: header, Grids: grids}
}

// ID returns the frame's pipeline stage tag from the IMGID header
func (f *Frame) ID() (ImageID, error) {
	return ParseImageID(f.Header.Str(KeyImgID, ""))
}

// Solved reports whether the frame carries an astrometric solution,
// keyed on the presence of CRVAL1
func (f *Frame) Solved() bool {
	return f.Header.Has(KeyCrval1)
}

// Raw reports whether the frame holds single-plane raw sensor data
func (f *Frame) Raw() bool {
	return f.Header.Bool(KeyRaw, false)
}

// Depth returns the pixel bit depth implied by the RAW flag:
// 16-bit for raw sensor data, 8-bit for processed RGB
func (f *Frame) Depth() pixel.Depth {
	if f.Raw() { return pixel.Depth16 }
	return pixel.Depth8
}
