/*
Copyright © 2024 the BatAnalysis authors.
This file is part of BatAnalysis.

BatAnalysis is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

BatAnalysis is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with BatAnalysis.  If not, see <http://www.gnu.org/licenses/>.
*/

package heasoft

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	batanalysis "github.com/dmopalmer/BatAnalysis"
	log "github.com/sirupsen/logrus"
)

// SkyViewConfig configures the creation of a set of sky maps from a
// detector plane image (DPI) via the batfftimage ground-software tool.
type SkyViewConfig struct {
	// DPIFile is the detector plane image to deconvolve. Required
	// unless SkyImageFile names an existing, previously created image.
	DPIFile string
	// SkyImageFile is the flux sky image output. If empty it is
	// derived from the DPI file name.
	SkyImageFile string
	// AttitudeFile is the spacecraft attitude history. Required.
	AttitudeFile string
	// DetectorQualityFile masks disabled detectors. Optional; when
	// empty the maps are built as if every detector were enabled.
	DetectorQualityFile string

	// Optional auxiliary products.
	CreatePartialCodingMap bool
	CreateSNRMap           bool
	CreateBkgStdDevMap     bool

	// Recalc forces the tool to run even when the output exists.
	Recalc bool

	// Params overrides individual batfftimage parameters.
	Params map[string]string
}

// A SkyView holds the set of sky maps produced from one detector plane
// image: the flux image plus whichever auxiliary maps were requested.
type SkyView struct {
	SkyImageFile string

	Image            *batanalysis.SkyImage
	PartialCoding    *batanalysis.SkyImage
	SignalToNoise    *batanalysis.SkyImage
	BackgroundStdDev *batanalysis.SkyImage
}

// stem is the file name without directory or extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// NewSkyView creates the sky maps described by the configuration,
// running batfftimage unless the outputs already exist and
// recalculation was not requested, and ingests the products.
func NewSkyView(ctx context.Context, c SkyViewConfig) (*SkyView, error) {
	if c.DPIFile == "" && c.SkyImageFile == "" {
		return nil, fmt.Errorf("heasoft: a DPI file is needed to create a sky image")
	}
	if c.DPIFile != "" && !exists(c.DPIFile) {
		return nil, fmt.Errorf("heasoft: the DPI file %s does not exist", c.DPIFile)
	}
	if c.AttitudeFile == "" {
		return nil, fmt.Errorf("heasoft: an attitude file associated with the DPI is required")
	}
	if !exists(c.AttitudeFile) {
		return nil, fmt.Errorf("heasoft: the attitude file %s does not exist", c.AttitudeFile)
	}
	quality := "NONE"
	if c.DetectorQualityFile != "" {
		if !exists(c.DetectorQualityFile) {
			return nil, fmt.Errorf("heasoft: the detector quality mask file %s does not exist",
				c.DetectorQualityFile)
		}
		quality = c.DetectorQualityFile
	} else {
		log.Warn("no detector quality mask file was specified; sky images will be constructed assuming that all detectors are on")
	}

	sv := &SkyView{SkyImageFile: c.SkyImageFile}
	if sv.SkyImageFile == "" {
		sv.SkyImageFile = filepath.Join(filepath.Dir(c.DPIFile), stem(c.DPIFile)+".img")
	}

	dir := filepath.Dir(sv.SkyImageFile)
	snrFile := filepath.Join(dir, stem(sv.SkyImageFile)+"_snr.img")
	bkgFile := filepath.Join(dir, stem(sv.SkyImageFile)+"_bkg_stddev.img")
	pcodeFile := filepath.Join(dir, stem(sv.SkyImageFile)+".pcodeimg")

	if !exists(sv.SkyImageFile) || c.Recalc {
		task := NewTask("batfftimage")
		task.Set("infile", c.DPIFile)
		task.Set("outfile", sv.SkyImageFile)
		task.Set("attitude", c.AttitudeFile)
		task.Set("detmask", quality)
		if c.CreateSNRMap {
			task.Set("signifmap", snrFile)
		}
		if c.CreateBkgStdDevMap {
			task.Set("bkgvarmap", bkgFile)
		}
		for k, v := range c.Params {
			task.Set(k, v)
		}
		if _, err := task.Run(ctx); err != nil {
			return nil, err
		}

		// The partial coding map needs a second invocation with the
		// pcodemap switch set, so it can later be fed to source
		// detection.
		if c.CreatePartialCodingMap {
			pcode := NewTask("batfftimage")
			for k, v := range task.Params {
				pcode.Set(k, v)
			}
			pcode.Set("pcodemap", "YES")
			pcode.Set("outfile", pcodeFile)
			if _, err := pcode.Run(ctx); err != nil {
				return nil, err
			}
		}
	}

	if !exists(sv.SkyImageFile) {
		return nil, fmt.Errorf("heasoft: the sky image file %s does not exist; an error must have occurred in its creation",
			sv.SkyImageFile)
	}
	var err error
	if sv.Image, err = batanalysis.FromFile(sv.SkyImageFile); err != nil {
		return nil, err
	}
	if c.CreatePartialCodingMap && exists(pcodeFile) {
		if sv.PartialCoding, err = batanalysis.FromFile(pcodeFile); err != nil {
			return nil, err
		}
	}
	if c.CreateSNRMap && exists(snrFile) {
		if sv.SignalToNoise, err = batanalysis.FromFile(snrFile); err != nil {
			return nil, err
		}
	}
	if c.CreateBkgStdDevMap && exists(bkgFile) {
		if sv.BackgroundStdDev, err = batanalysis.FromFile(bkgFile); err != nil {
			return nil, err
		}
	}
	return sv, nil
}
