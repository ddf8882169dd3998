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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/astrolith/obsmgr/internal/pixel"
)

// WriteImage writes the given pixel planes and header to a FITS file,
// creating or overwriting it
func WriteImage(fileName string, grids []*pixel.Grid, header *Header) error {
	f, err:=os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err!=nil { return err }
	defer f.Close()
	return Write(f, grids, header)
}

// WriteFrame writes a frame back to its file name
func (fr *Frame) WriteFile(fileName string) error {
	fr.FileName=fileName
	return WriteImage(fileName, fr.Grids, fr.Header)
}

// Write writes pixel planes and header to an io.Writer
func Write(w io.Writer, grids []*pixel.Grid, header *Header) error {
	if len(grids)==0 { return fmt.Errorf("no pixel planes to write") }
	g0:=grids[0]
	for _,g:=range grids[1:] {
		if !pixel.SameShape(g0, g) {
			return fmt.Errorf("mismatched plane shapes %dx%d vs %dx%d", g0.Width, g0.Height, g.Width, g.Height)
		}
	}

	// Build header in string buffer
	sb:=strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "FITS standard 4.0")
	writeInt(&sb, "BITPIX", int32(g0.Depth), "bits per pixel")
	naxis:=int32(2)
	if len(grids)>1 { naxis=3 }
	writeInt(&sb, "NAXIS", naxis, "number of axes")
	writeInt(&sb, KeyNaxis1, g0.Width, "axis 1 size")
	writeInt(&sb, KeyNaxis2, g0.Height, "axis 2 size")
	if naxis==3 { writeInt(&sb, "NAXIS3", int32(len(grids)), "number of planes") }
	writeInt(&sb, "BZERO", g0.Bzero, "zero offset")

	reserved:=map[string]bool{
		"SIMPLE":true, "BITPIX":true, "NAXIS":true, KeyNaxis1:true,
		KeyNaxis2:true, "NAXIS3":true, "BZERO":true, "END":true,
	}
	for _,card:=range header.Cards {
		if reserved[card.Key] { continue }
		writeCard(&sb, card)
	}
	sb.WriteString(fmt.Sprintf("%-80s", "END"))

	// Pad current header block with spaces if necessary
	if rem:=sb.Len()%blockSize; rem>0 {
		sb.WriteString(strings.Repeat(" ", blockSize-rem))
	}
	if _,err:=w.Write([]byte(sb.String())); err!=nil { return err }

	// Write data unit in network byte order, removing the BZERO offset
	buf:=make([]byte, 0, blockSize)
	written:=0
	for _,g:=range grids {
		for _,v:=range g.Data {
			raw:=v-g.Bzero
			if g.Depth==pixel.Depth8 {
				buf=append(buf, byte(raw))
			} else {
				buf=append(buf, byte(uint16(int16(raw))>>8), byte(uint16(int16(raw))))
			}
			if len(buf)==blockSize {
				if _,err:=w.Write(buf); err!=nil { return err }
				written+=len(buf)
				buf=buf[:0]
			}
		}
	}
	written+=len(buf)
	// pad data unit to block size with zeros
	if rem:=written%blockSize; rem>0 {
		buf=append(buf, make([]byte, blockSize-rem)...)
	}
	if len(buf)>0 {
		if _,err:=w.Write(buf); err!=nil { return err }
	}
	return nil
}

func writeCard(sb *strings.Builder, c Card) {
	switch v:=c.Value.(type) {
	case bool:
		writeBool(sb, c.Key, v, c.Comment)
	case int32:
		writeInt(sb, c.Key, v, c.Comment)
	case int:
		writeInt(sb, c.Key, int32(v), c.Comment)
	case int64:
		writeInt(sb, c.Key, int32(v), c.Comment)
	case float64:
		writeFloat(sb, c.Key, v, c.Comment)
	case float32:
		writeFloat(sb, c.Key, float64(v), c.Comment)
	case string:
		writeString(sb, c.Key, v, c.Comment)
	default:
		writeString(sb, c.Key, fmt.Sprintf("%v", v), c.Comment)
	}
}

func writeBool(sb *strings.Builder, key string, value bool, comment string) {
	v:="F"
	if value { v="T" }
	writeRaw(sb, key, fmt.Sprintf("%20s", v), comment)
}

func writeInt(sb *strings.Builder, key string, value int32, comment string) {
	writeRaw(sb, key, fmt.Sprintf("%20d", value), comment)
}

func writeFloat(sb *strings.Builder, key string, value float64, comment string) {
	writeRaw(sb, key, fmt.Sprintf("%20g", value), comment)
}

func writeString(sb *strings.Builder, key, value, comment string) {
	escaped:=strings.ReplaceAll(value, "'", "''")
	writeRaw(sb, key, fmt.Sprintf("'%s'", escaped), comment)
}

func writeRaw(sb *strings.Builder, key, value, comment string) {
	card:=fmt.Sprintf("%-8s= %s", key, value)
	if comment!="" {
		card=card+" / "+comment
	}
	if len(card)>cardSize { card=card[:cardSize] }
	sb.WriteString(fmt.Sprintf("%-80s", card))
}
