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
	"strconv"
)

// Header keys the pipeline reads and writes. Exact strings are part of the
// on-disk contract with the control panel and with files written by earlier
// releases.
const (
	KeyISO      = "ISO"
	KeyTime     = "TIME"
	KeyBulbTime = "BULBTIME"
	KeyRaw      = "RAW"
	KeyFilter   = "FILTER"
	KeyObject   = "OBJECT"
	KeyImgID    = "IMGID"
	KeyNaxis1   = "NAXIS1"
	KeyNaxis2   = "NAXIS2"
	KeyField    = "FIELD"
	KeyRA       = "RA"
	KeyDec      = "DEC"
	KeyMount    = "MOUNT"
	KeyDateEff  = "DATE-EFF"
	KeyTimeJD   = "TIME_JD"
	KeyCamPoser = "CAMPOSER"
	KeyGain     = "GAIN"
	KeyMaxADU   = "MAXADU"
	KeyCrval1   = "CRVAL1" // presence signals an already solved frame
	KeyCrval2   = "CRVAL2"
	KeyStacked  = "STACKED"
	KeyAveraged = "AVERAGED"
)

// PlateKeys are the header keys carrying the plate constants and the
// remaining WCS scalars, in order A..J
var PlateKeys = []string{
	"PLATE_A", "PLATE_B", "PLATE_C", "PLATE_D", "PLATE_E",
	"PLATE_F", "PLATE_G", "PLATE_H", "PLATE_I", "PLATE_J",
}

// StackedKey returns the n-th constituent filename key for a stacked frame
func StackedKey(n int) string { return fmt.Sprintf("STACK%d", n) }

// AveragedKey returns the n-th constituent filename key for an averaged frame
func AveragedKey(n int) string { return fmt.Sprintf("AVERAG%d", n) }

// A single header card: key, value and comment
type Card struct {
	Key     string
	Value   any
	Comment string
}

// An ordered FITS header. Cards keep their insertion order for writing;
// lookups go through the index.
type Header struct {
	Cards []Card
	index map[string]int
}

func NewHeader() *Header {
	return &Header{index: make(map[string]int)}
}

// Clone returns a deep copy of the header
func (h *Header) Clone() *Header {
	c:=NewHeader()
	for _,card:=range h.Cards {
		c.Set(card.Key, card.Value, card.Comment)
	}
	return c
}

// Has reports whether the header contains the given key
func (h *Header) Has(key string) bool {
	_,ok:=h.index[key]
	return ok
}

// Set stores a card, replacing value and comment in place if the key exists
func (h *Header) Set(key string, value any, comment string) {
	if i,ok:=h.index[key]; ok {
		h.Cards[i].Value=value
		h.Cards[i].Comment=comment
		return
	}
	h.index[key]=len(h.Cards)
	h.Cards=append(h.Cards, Card{key, value, comment})
}

// Delete removes a card if present
func (h *Header) Delete(key string) {
	i,ok:=h.index[key]
	if !ok { return }
	h.Cards=append(h.Cards[:i], h.Cards[i+1:]...)
	delete(h.index, key)
	for k,j:=range h.index {
		if j>i { h.index[k]=j-1 }
	}
}

// Get returns the raw card value for a key
func (h *Header) Get(key string) (value any, ok bool) {
	i,ok:=h.index[key]
	if !ok { return nil, false }
	return h.Cards[i].Value, true
}

// Int returns the value for key coerced to int32, with a fallback default
func (h *Header) Int(key string, def int32) int32 {
	v,ok:=h.Get(key)
	if !ok { return def }
	switch t:=v.(type) {
	case int32:   return t
	case int:     return int32(t)
	case int64:   return int32(t)
	case float64: return int32(t)
	case bool:    if t { return 1 }; return 0
	case string:
		if i,err:=strconv.ParseInt(t, 10, 32); err==nil { return int32(i) }
	}
	return def
}

// Float returns the value for key coerced to float64, with a fallback default
func (h *Header) Float(key string, def float64) float64 {
	v,ok:=h.Get(key)
	if !ok { return def }
	switch t:=v.(type) {
	case float64: return t
	case int32:   return float64(t)
	case int:     return float64(t)
	case int64:   return float64(t)
	case string:
		if f,err:=strconv.ParseFloat(t, 64); err==nil { return f }
	}
	return def
}

// Bool returns the value for key coerced to bool, with a fallback default
func (h *Header) Bool(key string, def bool) bool {
	v,ok:=h.Get(key)
	if !ok { return def }
	switch t:=v.(type) {
	case bool:    return t
	case int32:   return t!=0
	case float64: return t!=0
	case string:  return t=="T" || t=="1" || t=="true"
	}
	return def
}

// Str returns the value for key as a string, with a fallback default
func (h *Header) Str(key, def string) string {
	v,ok:=h.Get(key)
	if !ok { return def }
	switch t:=v.(type) {
	case string:  return t
	case bool:    if t { return "T" }; return "F"
	case int32:   return strconv.FormatInt(int64(t), 10)
	case float64: return strconv.FormatFloat(t, 'g', -1, 64)
	}
	return def
}

// FileList collects the values of keys prefix1, prefix2, ... in order,
// stopping at the first missing index. Used for the STACK{n} and AVERAG{n}
// constituent filename lists.
func (h *Header) FileList(keyFunc func(int) string) []string {
	var files []string
	for n:=1; ; n++ {
		v,ok:=h.Get(keyFunc(n))
		if !ok { break }
		s,_:=v.(string)
		files=append(files, s)
	}
	return files
}

// SetFileList writes the given filenames under keys keyFunc(1..n)
func (h *Header) SetFileList(keyFunc func(int) string, files []string) {
	for n,f:=range files {
		h.Set(keyFunc(n+1), f, "constituent frame")
	}
}
