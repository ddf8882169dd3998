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

package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/astrolith/obsmgr/internal/combine"
	"github.com/astrolith/obsmgr/internal/register"
	"github.com/astrolith/obsmgr/internal/resample"
)

// Camera describes one camera the manager reduces frames for
type Camera struct {
	Name            string  `yaml:"name" json:"name"`
	ScaleArcsec     float64 `yaml:"scaleArcsec" json:"scaleArcsec"`
	PointingErrDeg  float64 `yaml:"pointingErrDeg" json:"pointingErrDeg"`
	CenteringErrDeg float64 `yaml:"centeringErrDeg" json:"centeringErrDeg"`
	LimitMag        float64 `yaml:"limitMag" json:"limitMag"`
	MaxStars        int     `yaml:"maxStars" json:"maxStars"`
}

// Config is the process-wide pipeline configuration. It is loaded once and
// passed explicitly into pipeline calls; the interactive surfaces update it
// as a whole, never field by field mid-reduction.
type Config struct {
	WorkDir       string   `yaml:"workDir" json:"workDir"`
	Cameras       []Camera `yaml:"cameras" json:"cameras"`
	Combine       string   `yaml:"combineMethod" json:"combineMethod"`
	Average       string   `yaml:"averageMethod" json:"averageMethod"`
	Interpolation string   `yaml:"interpolation" json:"interpolation"`
	Drizzle       float64  `yaml:"drizzle" json:"drizzle"`
	Kappa         float32  `yaml:"kappaSigma" json:"kappaSigma"`
	FlatDivide    bool     `yaml:"flatDivide" json:"flatDivide"`
	CatalogPath   string   `yaml:"catalogPath" json:"catalogPath"`
	JPEGQuality   int      `yaml:"jpegQuality" json:"jpegQuality"`
	PreviewFormat string   `yaml:"previewFormat" json:"previewFormat"`
	TIFFExport    bool     `yaml:"tiffExport" json:"tiffExport"`

	SolveMinArea        int     `yaml:"solveMinArea" json:"solveMinArea"`
	SolveSigma          float32 `yaml:"solveSigma" json:"solveSigma"`
	SolveClassThreshold float64 `yaml:"solveClassThreshold" json:"solveClassThreshold"`
	SolveMaxSources     int     `yaml:"solveMaxSources" json:"solveMaxSources"`
}

// Preview formats for registered outputs
const (
	PreviewMono       = "mono"
	PreviewFalseColor = "falseColor"
	PreviewNone       = "none"
)

// DefaultConfig returns the configuration used when no file overrides it
func DefaultConfig() *Config {
	return &Config{
		Combine:       combine.KappaSigma.String(),
		Average:       register.Ponderation.String(),
		Interpolation: resample.Bilinear.String(),
		Drizzle:       1,
		Kappa:         combine.DefaultKappa,
		JPEGQuality:   90,
		PreviewFormat: PreviewMono,

		SolveMinArea:        5,
		SolveSigma:          10,
		SolveClassThreshold: 0.2,
		SolveMaxSources:     50,
	}
}

// LoadConfig reads and validates a YAML configuration file, applying
// defaults for absent fields
func LoadConfig(path string) (*Config, error) {
	buf, err:=os.ReadFile(path)
	if err!=nil { return nil, err }
	cfg:=DefaultConfig()
	if err:=yaml.Unmarshal(buf, cfg); err!=nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err:=cfg.Validate(); err!=nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration errors that must surface at setup time
// rather than mid-reduction
func (c *Config) Validate() error {
	if c.WorkDir=="" {
		return fmt.Errorf("workDir is not set")
	}
	if fi, err:=os.Stat(c.WorkDir); err!=nil || !fi.IsDir() {
		return fmt.Errorf("workDir %s is not a directory", c.WorkDir)
	}
	if len(c.Cameras)>2 {
		return fmt.Errorf("at most 2 cameras are supported, got %d", len(c.Cameras))
	}
	if _,err:=combine.ParseMethod(c.Combine); err!=nil { return err }
	if _,err:=register.ParseAverageMethod(c.Average); err!=nil { return err }
	if _,err:=resample.ParseInterpolation(c.Interpolation); err!=nil { return err }
	if !register.ValidDrizzle(c.Drizzle) {
		return fmt.Errorf("invalid drizzle factor %g", c.Drizzle)
	}
	switch c.PreviewFormat {
	case PreviewMono, PreviewFalseColor, PreviewNone:
	default:
		return fmt.Errorf("unknown preview format %q", c.PreviewFormat)
	}
	return nil
}

// RegisterOptions maps the configuration to the registration engine options.
// Call only after Validate.
func (c *Config) RegisterOptions() register.Options {
	cm,_:=combine.ParseMethod(c.Combine)
	am,_:=register.ParseAverageMethod(c.Average)
	im,_:=resample.ParseInterpolation(c.Interpolation)
	return register.Options{
		Interpolation: im,
		Average:       am,
		Combine:       cm,
		Kappa:         c.Kappa,
		Drizzle:       c.Drizzle,
	}
}

// CameraByName returns the configured camera with the given name
func (c *Config) CameraByName(name string) (*Camera, error) {
	for i:=range c.Cameras {
		if c.Cameras[i].Name==name { return &c.Cameras[i], nil }
	}
	return nil, fmt.Errorf("unknown camera %q", name)
}
