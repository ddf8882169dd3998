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

// Package extract detects point sources in a reduced image for the
// astrometric solver. The extractor contract is textual: an implementation
// renders a report of one source per line, which the solver parses back
// with ParseReport. This keeps external extractors (invoked as commands)
// interchangeable with the native one.
package extract

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/astrolith/obsmgr/internal/pixel"
)

// A detected point source. Class is a roundness classifier in [0,1],
// near 1 for stellar profiles.
type Source struct {
	X     float64
	Y     float64
	Flux  float64
	Class float64
}

// Extractor detects sources in a single pixel plane and renders the
// textual report
type Extractor interface {
	Extract(g *pixel.Grid, minArea int, sigma float32) (report string, err error)
}

// ParseReport parses an extraction report back into sources. Lines starting
// with # and blank lines are skipped. Each remaining line carries
// whitespace-separated x, y, flux and classification columns.
func ParseReport(report string) ([]Source, error) {
	var srcs []Source
	scanner:=bufio.NewScanner(strings.NewReader(report))
	lineNo:=0
	for scanner.Scan() {
		lineNo++
		line:=strings.TrimSpace(scanner.Text())
		if line=="" || strings.HasPrefix(line, "#") { continue }
		fields:=strings.Fields(line)
		if len(fields)<4 {
			return nil, fmt.Errorf("report line %d: got %d columns, expected 4", lineNo, len(fields))
		}
		vals:=make([]float64, 4)
		for i:=0; i<4; i++ {
			v, err:=strconv.ParseFloat(fields[i], 64)
			if err!=nil {
				return nil, fmt.Errorf("report line %d column %d: %w", lineNo, i+1, err)
			}
			vals[i]=v
		}
		srcs=append(srcs, Source{X: vals[0], Y: vals[1], Flux: vals[2], Class: vals[3]})
	}
	return srcs, nil
}

// RenderReport renders sources in the format ParseReport consumes
func RenderReport(srcs []Source) string {
	sb:=strings.Builder{}
	sb.WriteString("# x y flux class\n")
	for _,s:=range srcs {
		fmt.Fprintf(&sb, "%.3f %.3f %.1f %.2f\n", s.X, s.Y, s.Flux, s.Class)
	}
	return sb.String()
}

// ByFluxDesc sorts sources brightest first, the order the solver consumes
func ByFluxDesc(srcs []Source) {
	sort.Slice(srcs, func(i, j int) bool { return srcs[i].Flux>srcs[j].Flux })
}
