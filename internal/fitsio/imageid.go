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

package fitsio

import "fmt"

// ImageID tags a frame with the pipeline stage that consumes it next.
// Transitions: Dark/Flat/OnSource combine and calibrate into masters or a
// ReducedOn frame; ReducedOn frames stack; Stacked frames average. Dark and
// Flat terminate after producing their master frame.
type ImageID int

const (
	IDDark ImageID = iota
	IDFlat
	IDOnSource
	IDTest
	IDReducedOn
	IDStacked
	IDAveraged
)

var imageIDNames = map[ImageID]string{
	IDDark:      "dark",
	IDFlat:      "flat",
	IDOnSource:  "on",
	IDTest:      "test",
	IDReducedOn: "reduced-on",
	IDStacked:   "stacked",
	IDAveraged:  "averaged",
}

func (id ImageID) String() string {
	if s,ok:=imageIDNames[id]; ok { return s }
	return fmt.Sprintf("ImageID(%d)", int(id))
}

// ParseImageID maps the IMGID header string back to the tag
func ParseImageID(s string) (ImageID, error) {
	for id,name:=range imageIDNames {
		if name==s { return id, nil }
	}
	return 0, fmt.Errorf("unrecognized image id %q", s)
}

// Calibration reports whether frames with this id produce a master frame
func (id ImageID) Calibration() bool {
	return id==IDDark || id==IDFlat
}
