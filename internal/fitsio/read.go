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
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/astrolith/obsmgr/internal/pixel"
)

// ReadHeader reads only the header of the FITS file with the given name.
// Fast: does not touch the data unit.
func ReadHeader(fileName string) (*Header, error) {
	f, r, err:=openMaybeGzip(fileName)
	if err!=nil { return nil, err }
	defer f.Close()
	return readHeader(r)
}

// ReadFrame reads the full FITS file with the given name: header plus all
// pixel planes. Decompresses gzip if a .gz or .gzip suffix is present.
func ReadFrame(fileName string) (*Frame, error) {
	f, r, err:=openMaybeGzip(fileName)
	if err!=nil { return nil, err }
	defer f.Close()

	header, err:=readHeader(r)
	if err!=nil { return nil, fmt.Errorf("%s: %w", fileName, err) }
	grids, err:=readData(r, header)
	if err!=nil { return nil, fmt.Errorf("%s: %w", fileName, err) }

	frame:=NewFrame(grids, header)
	frame.FileName=fileName
	return frame, nil
}

// ReadPlane reads a single pixel plane of the FITS file with the given name
func ReadPlane(fileName string, planeIndex int) (*pixel.Grid, error) {
	frame, err:=ReadFrame(fileName)
	if err!=nil { return nil, err }
	if planeIndex<0 || planeIndex>=len(frame.Grids) {
		return nil, fmt.Errorf("%s: plane %d out of range, file has %d", fileName, planeIndex, len(frame.Grids))
	}
	return frame.Grids[planeIndex], nil
}

func openMaybeGzip(fileName string) (f *os.File, r io.Reader, err error) {
	f, err=os.Open(fileName)
	if err!=nil { return nil, nil, err }
	r=f
	lExt:=strings.ToLower(path.Ext(fileName))
	if lExt==".gz" || lExt==".gzip" {
		r, err=gzip.NewReader(f)
		if err!=nil { f.Close(); return nil, nil, err }
	}
	return f, r, nil
}

// readHeader consumes 2880-byte blocks of 80-character cards until END
func readHeader(r io.Reader) (*Header, error) {
	h:=NewHeader()
	block:=make([]byte, blockSize)
	for {
		if _,err:=io.ReadFull(r, block); err!=nil {
			return nil, fmt.Errorf("reading header block: %w", err)
		}
		for off:=0; off<blockSize; off+=cardSize {
			card:=string(block[off:off+cardSize])
			key:=strings.TrimRight(card[:8], " ")
			if key=="END" { return h, nil }
			if key=="" || key=="COMMENT" || key=="HISTORY" { continue }
			if len(card)<10 || card[8]!='=' { continue }
			value, comment:=parseCardValue(card[10:])
			h.Set(key, value, comment)
		}
	}
}

// parseCardValue splits the value field from the comment and types the value
func parseCardValue(s string) (value any, comment string) {
	s=strings.TrimSpace(s)
	if strings.HasPrefix(s, "'") {
		// quoted string, '' is an escaped quote
		end:=1
		for end<len(s) {
			if s[end]=='\'' {
				if end+1<len(s) && s[end+1]=='\'' { end+=2; continue }
				break
			}
			end++
		}
		str:=strings.ReplaceAll(s[1:end], "''", "'")
		rest:=s[min(end+1, len(s)):]
		return strings.TrimRight(str, " "), trimComment(rest)
	}
	valStr:=s
	if i:=strings.IndexByte(s, '/'); i>=0 {
		valStr, comment=strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
	}
	switch valStr {
	case "T": return true, comment
	case "F": return false, comment
	}
	if i,err:=strconv.ParseInt(valStr, 10, 64); err==nil {
		return int32(i), comment
	}
	if f,err:=strconv.ParseFloat(valStr, 64); err==nil {
		return f, comment
	}
	return valStr, comment
}

func trimComment(s string) string {
	s=strings.TrimSpace(s)
	s=strings.TrimPrefix(s, "/")
	return strings.TrimSpace(s)
}

// readData reads all pixel planes described by the header, converting from
// network byte order and applying the BZERO signed-offset convention so the
// in-memory grids hold true signed values
func readData(r io.Reader, h *Header) ([]*pixel.Grid, error) {
	bitpix:=h.Int("BITPIX", 0)
	var depth pixel.Depth
	switch bitpix {
	case 8:  depth=pixel.Depth8
	case 16: depth=pixel.Depth16
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", bitpix)
	}
	naxis:=h.Int("NAXIS", 0)
	if naxis<2 || naxis>3 {
		return nil, fmt.Errorf("unsupported NAXIS %d", naxis)
	}
	width, height:=h.Int(KeyNaxis1, 0), h.Int(KeyNaxis2, 0)
	if width<=0 || height<=0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	planes:=int32(1)
	if naxis==3 { planes=h.Int("NAXIS3", 1) }
	bzero:=h.Int("BZERO", 0)

	bytesPerPixel:=int(bitpix)/8
	total:=int(width)*int(height)*int(planes)*bytesPerPixel
	buf:=make([]byte, total)
	if _,err:=io.ReadFull(r, buf); err!=nil {
		return nil, fmt.Errorf("reading %d data bytes: %w", total, err)
	}

	grids:=make([]*pixel.Grid, planes)
	pos:=0
	for p:=int32(0); p<planes; p++ {
		g:=pixel.NewGrid(width, height, depth)
		g.Bzero=bzero
		for i:=range g.Data {
			var raw int32
			if depth==pixel.Depth8 {
				raw=int32(buf[pos])
				pos++
			} else {
				raw=int32(int16(uint16(buf[pos])<<8 | uint16(buf[pos+1])))
				pos+=2
			}
			g.Data[i]=raw+bzero
		}
		grids[p]=g
	}
	return grids, nil
}
