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

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
)

// A row of the source-match table the solver writes next to a solved frame:
// one detected source, its derived magnitude, and the catalog identity it
// was matched to, if any
type SourceRow struct {
	X         float64
	Y         float64
	Flux      float64
	Magnitude float64
	CatalogID int32  // -1 when unmatched
	Name      string // catalog name, empty when unmatched
}

const sourceNameLen = 24
const sourceTableMagic = "OBSSRC1\n"

// TablePath returns the sidecar file name for a frame's source-match table
func TablePath(framePath string) string {
	return strings.TrimSuffix(framePath, ".fits")+".srcs"
}

// WriteSourceTable writes the solver's source-match rows as a fixed-record
// binary table next to the frame
func WriteSourceTable(framePath string, rows []SourceRow) error {
	f, err:=os.OpenFile(TablePath(framePath), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err!=nil { return err }
	defer f.Close()

	if _,err:=f.Write([]byte(sourceTableMagic)); err!=nil { return err }
	if err:=binary.Write(f, binary.BigEndian, int32(len(rows))); err!=nil { return err }
	for _,row:=range rows {
		if err:=binary.Write(f, binary.BigEndian, row.X); err!=nil { return err }
		if err:=binary.Write(f, binary.BigEndian, row.Y); err!=nil { return err }
		if err:=binary.Write(f, binary.BigEndian, row.Flux); err!=nil { return err }
		if err:=binary.Write(f, binary.BigEndian, row.Magnitude); err!=nil { return err }
		if err:=binary.Write(f, binary.BigEndian, row.CatalogID); err!=nil { return err }
		name:=make([]byte, sourceNameLen)
		copy(name, row.Name)
		if _,err:=f.Write(name); err!=nil { return err }
	}
	return nil
}

// ReadSourceTable reads back a source-match table written by WriteSourceTable
func ReadSourceTable(framePath string) ([]SourceRow, error) {
	f, err:=os.Open(TablePath(framePath))
	if err!=nil { return nil, err }
	defer f.Close()

	magic:=make([]byte, len(sourceTableMagic))
	if _,err:=io.ReadFull(f, magic); err!=nil { return nil, err }
	if string(magic)!=sourceTableMagic {
		return nil, fmt.Errorf("%s: not a source table", TablePath(framePath))
	}
	var count int32
	if err:=binary.Read(f, binary.BigEndian, &count); err!=nil { return nil, err }
	rows:=make([]SourceRow, count)
	for i:=range rows {
		if err:=binary.Read(f, binary.BigEndian, &rows[i].X); err!=nil { return nil, err }
		if err:=binary.Read(f, binary.BigEndian, &rows[i].Y); err!=nil { return nil, err }
		if err:=binary.Read(f, binary.BigEndian, &rows[i].Flux); err!=nil { return nil, err }
		if err:=binary.Read(f, binary.BigEndian, &rows[i].Magnitude); err!=nil { return nil, err }
		if err:=binary.Read(f, binary.BigEndian, &rows[i].CatalogID); err!=nil { return nil, err }
		name:=make([]byte, sourceNameLen)
		if _,err:=io.ReadFull(f, name); err!=nil { return nil, err }
		rows[i].Name=strings.TrimRight(string(name), "\x00")
	}
	return rows, nil
}
