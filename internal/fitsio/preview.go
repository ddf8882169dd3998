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
	"image"
	"image/color"
	"image/jpeg"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/tiff"

	"github.com/astrolith/obsmgr/internal/pixel"
)

// WriteMonoJPG writes an 8-bit JPEG preview of a single plane, scaled to
// the plane's min/max range
func WriteMonoJPG(fileName string, g *pixel.Grid, quality int) error {
	min, max:=minMax(g)
	scale:=float64(0)
	if max>min { scale=255.0/float64(max-min) }

	img:=image.NewGray(image.Rect(0, 0, int(g.Width), int(g.Height)))
	for y:=int32(0); y<g.Height; y++ {
		for x:=int32(0); x<g.Width; x++ {
			img.SetGray(int(x), int(y), color.Gray{uint8(float64(g.At(x,y)-min)*scale)})
		}
	}
	return writeJPG(fileName, img, quality)
}

// WriteFalseColorJPG writes a false-color JPEG preview of a single plane,
// mapping intensity onto a perceptually even blue-to-yellow HCL ramp
func WriteFalseColorJPG(fileName string, g *pixel.Grid, quality int) error {
	min, max:=minMax(g)
	scale:=float64(0)
	if max>min { scale=1.0/float64(max-min) }

	img:=image.NewRGBA(image.Rect(0, 0, int(g.Width), int(g.Height)))
	for y:=int32(0); y<g.Height; y++ {
		for x:=int32(0); x<g.Width; x++ {
			v:=float64(g.At(x,y)-min)*scale
			c:=colorful.Hcl(280-200*v, 0.4+0.2*v, v).Clamped()
			r, gg, b:=c.RGB255()
			img.SetRGBA(int(x), int(y), color.RGBA{r, gg, b, 255})
		}
	}
	return writeJPG(fileName, img, quality)
}

// WriteTIFF16 exports a single plane as an uncompressed 16-bit TIFF,
// preserving the full dynamic range of raw sensor data
func WriteTIFF16(fileName string, g *pixel.Grid) error {
	img:=image.NewGray16(image.Rect(0, 0, int(g.Width), int(g.Height)))
	for y:=int32(0); y<g.Height; y++ {
		for x:=int32(0); x<g.Width; x++ {
			v:=g.At(x, y)-g.Bzero // back to unsigned storage values
			img.SetGray16(int(x), int(y), color.Gray16{uint16(v)})
		}
	}
	f, err:=os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err!=nil { return err }
	defer f.Close()
	return tiff.Encode(f, img, &tiff.Options{Compression: tiff.Uncompressed, Predictor: false})
}

func writeJPG(fileName string, img image.Image, quality int) error {
	f, err:=os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err!=nil { return err }
	defer f.Close()
	if quality<=0 || quality>100 {
		return fmt.Errorf("invalid JPEG quality %d", quality)
	}
	return jpeg.Encode(f, img, &jpeg.Options{Quality: quality})
}

func minMax(g *pixel.Grid) (min, max int32) {
	min, max=g.Data[0], g.Data[0]
	for _,v:=range g.Data {
		if v<min { min=v }
		if v>max { max=v }
	}
	return min, max
}
