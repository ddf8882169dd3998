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
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/astrolith/obsmgr/internal/pixel"
)

// gradient test plane: dark left edge, bright right edge
func previewGrid() *pixel.Grid {
	g:=pixel.NewGrid(32, 16, pixel.Depth16)
	for y:=int32(0); y<g.Height; y++ {
		for x:=int32(0); x<g.Width; x++ {
			g.Set(x, y, x*100)
		}
	}
	return g
}

func decodeJPG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err:=os.Open(path)
	if err!=nil { t.Fatalf("open %s: %s", path, err) }
	defer f.Close()
	img, err:=jpeg.Decode(f)
	if err!=nil { t.Fatalf("decode %s: %s", path, err) }
	return img
}

func luma(img image.Image, x, y int) uint32 {
	r, g, b, _:=img.At(x, y).RGBA()
	return r+g+b
}

func TestWriteMonoJPG(t *testing.T) {
	path:=filepath.Join(t.TempDir(), "preview.jpg")
	if err:=WriteMonoJPG(path, previewGrid(), 90); err!=nil { t.Fatalf("write: %s", err) }

	img:=decodeJPG(t, path)
	if img.Bounds().Dx()!=32 || img.Bounds().Dy()!=16 {
		t.Fatalf("dims %v expected 32x16", img.Bounds())
	}
	if luma(img, 31, 8)<=luma(img, 0, 8) {
		t.Errorf("bright edge not brighter than dark edge")
	}
}

func TestWriteFalseColorJPG(t *testing.T) {
	path:=filepath.Join(t.TempDir(), "preview.jpg")
	if err:=WriteFalseColorJPG(path, previewGrid(), 90); err!=nil { t.Fatalf("write: %s", err) }

	img:=decodeJPG(t, path)
	if img.Bounds().Dx()!=32 || img.Bounds().Dy()!=16 {
		t.Fatalf("dims %v expected 32x16", img.Bounds())
	}
	if luma(img, 31, 8)<=luma(img, 0, 8) {
		t.Errorf("bright edge not brighter than dark edge")
	}
}

func TestWriteTIFF16RoundTrip(t *testing.T) {
	g:=previewGrid()
	path:=filepath.Join(t.TempDir(), "export.tiff")
	if err:=WriteTIFF16(path, g); err!=nil { t.Fatalf("write: %s", err) }

	f, err:=os.Open(path)
	if err!=nil { t.Fatalf("open: %s", err) }
	defer f.Close()
	img, err:=tiff.Decode(f)
	if err!=nil { t.Fatalf("decode: %s", err) }
	gray, ok:=img.(*image.Gray16)
	if !ok { t.Fatalf("decoded %T expected *image.Gray16", img) }
	if gray.Bounds().Dx()!=32 || gray.Bounds().Dy()!=16 {
		t.Fatalf("dims %v expected 32x16", gray.Bounds())
	}
	// full 16-bit values survive, unlike the 8-bit JPEG previews
	if v:=gray.Gray16At(20, 5).Y; v!=2000 {
		t.Errorf("pixel (20,5): got %d expected 2000", v)
	}
}

func TestWriteJPGInvalidQuality(t *testing.T) {
	path:=filepath.Join(t.TempDir(), "preview.jpg")
	if err:=WriteMonoJPG(path, previewGrid(), 0); err==nil {
		t.Errorf("expected invalid quality error")
	}
}
