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

package batanalysis

import (
	"fmt"
	"os"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/ctessum/sparse"
	"github.com/ctessum/unit"
)

// Sky image files are multi-extension FITS containers: one 2-D image
// extension per energy bin, named for the image type, plus an EBOUNDS
// table with the energy bin bounds and an STDGTI table with the good
// time interval.

type eboundsRow struct {
	EMin float64 `fits:"E_MIN"`
	EMax float64 `fits:"E_MAX"`
}

type gtiRow struct {
	Start float64 `fits:"START"`
	Stop  float64 `fits:"STOP"`
}

// FromFile reads a sky image from a multi-extension FITS file produced
// by the imaging ground software or by WriteFile. All image extensions
// in a file must hold the same image type; partial-coding and
// significance images are dimensionless regardless of any recorded
// unit. Files holding more than one time bin are rejected.
func FromFile(path string) (*SkyImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("batanalysis: the sky image file %s does not seem to exist: %v", path, err)
	}
	defer f.Close()
	fits, err := fitsio.Open(f)
	if err != nil {
		return nil, fmt.Errorf("batanalysis: reading sky image file %s: %v", path, err)
	}
	defer fits.Close()

	var (
		imgType ImageType
		imgs    []fitsio.Image
		ebounds *fitsio.Table
		gti     *fitsio.Table
	)
	for i, hdu := range fits.HDUs() {
		name := hdu.Name()
		if i == 0 && name == "" && len(hdu.Header().Axes()) == 0 {
			// Bare primary HDU; it is the container preamble, not an
			// image extension.
			continue
		}
		lower := strings.ToLower(name)
		switch {
		case strings.Contains(lower, "ebounds"):
			tbl, ok := hdu.(*fitsio.Table)
			if !ok {
				return nil, fmt.Errorf("batanalysis: extension %s is not a table", name)
			}
			ebounds = tbl
		case strings.Contains(lower, "stdgti"):
			tbl, ok := hdu.(*fitsio.Table)
			if !ok {
				return nil, fmt.Errorf("batanalysis: extension %s is not a table", name)
			}
			gti = tbl
		default:
			t, ok := imageTypeForExtname(name)
			if !ok {
				return nil, fmt.Errorf("batanalysis: an unexpected extension name %q was encountered; "+
					"sky image files may only hold IMAGE, PCODE, SIGNIF, VARMAP or EXPOSURE image "+
					"extensions and EBOUNDS and STDGTI tables", name)
			}
			img, ok := hdu.(fitsio.Image)
			if !ok {
				return nil, fmt.Errorf("batanalysis: extension %s is not an image", name)
			}
			if len(imgs) == 0 {
				imgType = t
			} else if t != imgType {
				return nil, fmt.Errorf("batanalysis: the file mixes %v and %v image extensions; "+
					"a sky image file holds one image type", imgType, t)
			}
			imgs = append(imgs, img)
		}
	}
	if len(imgs) == 0 {
		return nil, fmt.Errorf("batanalysis: the file %s holds no image extensions", path)
	}
	if gti == nil {
		return nil, fmt.Errorf("batanalysis: the file %s is missing the STDGTI extension", path)
	}

	// Good time interval: exactly one time bin is supported.
	if gti.NumRows() > 1 {
		return nil, fmt.Errorf("batanalysis: the file holds %d time bins; multi-timebin sky images "+
			"are not supported", gti.NumRows())
	}
	var tr gtiRow
	if err := readRows(gti, func(rows *fitsio.Rows) error { return rows.Scan(&tr) }); err != nil {
		return nil, fmt.Errorf("batanalysis: reading STDGTI: %v", err)
	}

	// Energy bounds: from the EBOUNDS table, whose row count must match
	// the number of image extensions, or per extension from E_MIN/E_MAX
	// header cards when no table is present.
	emin := make([]float64, 0, len(imgs))
	emax := make([]float64, 0, len(imgs))
	if ebounds != nil {
		if int(ebounds.NumRows()) != len(imgs) {
			return nil, fmt.Errorf("batanalysis: the number of energy bins, %d, is not equal to the "+
				"number of image extensions, %d", ebounds.NumRows(), len(imgs))
		}
		err := readRows(ebounds, func(rows *fitsio.Rows) error {
			var er eboundsRow
			if err := rows.Scan(&er); err != nil {
				return err
			}
			emin = append(emin, er.EMin)
			emax = append(emax, er.EMax)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("batanalysis: reading EBOUNDS: %v", err)
		}
	} else {
		for _, img := range imgs {
			lo, err := headerFloat(img.Header(), "E_MIN")
			if err != nil {
				return nil, err
			}
			hi, err := headerFloat(img.Header(), "E_MAX")
			if err != nil {
				return nil, err
			}
			emin = append(emin, lo)
			emax = append(emax, hi)
		}
	}

	hdr := imgs[0].Header()
	axes := hdr.Axes()
	if len(axes) != 2 {
		return nil, fmt.Errorf("batanalysis: image extensions must be 2-dimensional, got %d axes", len(axes))
	}
	nx, ny := axes[0], axes[1]
	w, err := wcsFromHeader(hdr)
	if err != nil {
		return nil, err
	}
	var units unit.Dimensions
	if !imgType.Dimensionless() {
		if units, err = parseBUnit(headerString(hdr, "BUNIT")); err != nil {
			return nil, err
		}
	}

	arr := sparse.ZerosDense(1, ny, nx, len(imgs))
	for e, img := range imgs {
		a := img.Header().Axes()
		if len(a) != 2 || a[0] != nx || a[1] != ny {
			return nil, fmt.Errorf("batanalysis: image extension %d has dimensions %v; expected %v",
				e, a, axes)
		}
		pix, err := readImagePixels(img, nx*ny)
		if err != nil {
			return nil, fmt.Errorf("batanalysis: reading image extension %d: %v", e, err)
		}
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				arr.Set(pix[y*nx+x], 0, y, x, e)
			}
		}
	}

	return NewSkyImage(SkyImageConfig{
		Data:   arr,
		TStart: []float64{tr.Start},
		TStop:  []float64{tr.Stop},
		EMin:   emin,
		EMax:   emax,
		WCS:    w,
		Units:  units,
		Type:   imgType,
	})
}

// WriteFile writes the sky image to a multi-extension FITS file in the
// layout consumed by FromFile. The image type must be set, since the
// extensions are named by it, and HEALPix-gridded images have no 2-D
// extension layout (use WriteNetCDF for those).
func (si *SkyImage) WriteFile(path string) error {
	if si.Type == ImageTypeUnset {
		return fmt.Errorf("batanalysis: a sky image with no declared image type cannot be written; " +
			"the file extensions are named by the image type")
	}
	if si.Axis(AxisHealpix) != nil {
		return fmt.Errorf("batanalysis: HEALPix-gridded sky images have no 2-D extension layout; " +
			"use WriteNetCDF instead")
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("batanalysis: creating %s: %v", path, err)
	}
	defer f.Close()
	fits, err := fitsio.Create(f)
	if err != nil {
		return fmt.Errorf("batanalysis: creating FITS file %s: %v", path, err)
	}
	defer fits.Close()

	phdu, err := fitsio.NewPrimaryHDU(nil)
	if err != nil {
		return err
	}
	defer phdu.Close()
	if err := fits.Write(phdu); err != nil {
		return err
	}

	kw := imageTypeKeywords[si.Type]
	ny := si.Axis(AxisImageY).NBins()
	nx := si.Axis(AxisImageX).NBins()
	ne := si.Axis(AxisEnergy).NBins()
	for e := 0; e < ne; e++ {
		img := fitsio.NewImage(-64, []int{nx, ny})
		cards := []fitsio.Card{
			{Name: "EXTNAME", Value: fmt.Sprintf("BAT_%s_%d", kw, e+1), Comment: "extension name"},
			{Name: "E_MIN", Value: si.EBins.Min[e], Comment: "[keV] lower energy bound"},
			{Name: "E_MAX", Value: si.EBins.Max[e], Comment: "[keV] upper energy bound"},
		}
		if si.WCS != nil {
			cards = append(cards,
				fitsio.Card{Name: "CTYPE1", Value: si.WCS.CType1, Comment: "projection type"},
				fitsio.Card{Name: "CTYPE2", Value: si.WCS.CType2, Comment: "projection type"},
				fitsio.Card{Name: "CRPIX1", Value: si.WCS.CRPix1, Comment: "reference pixel"},
				fitsio.Card{Name: "CRPIX2", Value: si.WCS.CRPix2, Comment: "reference pixel"},
				fitsio.Card{Name: "CRVAL1", Value: si.WCS.CRVal1, Comment: "[deg] coordinate at reference pixel"},
				fitsio.Card{Name: "CRVAL2", Value: si.WCS.CRVal2, Comment: "[deg] coordinate at reference pixel"},
				fitsio.Card{Name: "CDELT1", Value: si.WCS.CDelt1, Comment: "[deg] pixel scale"},
				fitsio.Card{Name: "CDELT2", Value: si.WCS.CDelt2, Comment: "[deg] pixel scale"},
			)
		}
		if b := formatBUnit(si.Units); b != "" && !si.Type.Dimensionless() {
			cards = append(cards, fitsio.Card{Name: "BUNIT", Value: b, Comment: "image data unit"})
		}
		if err := img.Header().Append(cards...); err != nil {
			return err
		}
		data := make([]float64, nx*ny)
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				data[y*nx+x] = si.Data.Get(0, y, x, e)
			}
		}
		if err := img.Write(&data); err != nil {
			return err
		}
		if err := fits.Write(img); err != nil {
			return err
		}
		img.Close()
	}

	ebounds, err := fitsio.NewTable("EBOUNDS", []fitsio.Column{
		{Name: "E_MIN", Format: "D", Unit: "keV"},
		{Name: "E_MAX", Format: "D", Unit: "keV"},
	}, fitsio.BINARY_TBL)
	if err != nil {
		return err
	}
	defer ebounds.Close()
	for e := 0; e < ne; e++ {
		r := eboundsRow{EMin: si.EBins.Min[e], EMax: si.EBins.Max[e]}
		if err := ebounds.Write(&r); err != nil {
			return err
		}
	}
	if err := fits.Write(ebounds); err != nil {
		return err
	}

	gti, err := fitsio.NewTable("STDGTI", []fitsio.Column{
		{Name: "START", Format: "D", Unit: "s"},
		{Name: "STOP", Format: "D", Unit: "s"},
	}, fitsio.BINARY_TBL)
	if err != nil {
		return err
	}
	defer gti.Close()
	for i := range si.GTI.Start {
		r := gtiRow{Start: si.GTI.Start[i], Stop: si.GTI.Stop[i]}
		if err := gti.Write(&r); err != nil {
			return err
		}
	}
	return fits.Write(gti)
}

// readRows iterates the full table, calling scan for each row.
func readRows(tbl *fitsio.Table, scan func(*fitsio.Rows) error) error {
	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// readImagePixels reads an image extension's data as float64,
// accepting either single or double precision storage.
func readImagePixels(img fitsio.Image, n int) ([]float64, error) {
	switch img.Header().Bitpix() {
	case -64:
		data := make([]float64, n)
		if err := img.Read(&data); err != nil {
			return nil, err
		}
		return data, nil
	case -32:
		data := make([]float32, n)
		if err := img.Read(&data); err != nil {
			return nil, err
		}
		out := make([]float64, n)
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported image BITPIX %d", img.Header().Bitpix())
	}
}

// wcsFromHeader builds a WCS from the standard celestial projection
// keywords, returning nil if none are present.
func wcsFromHeader(hdr *fitsio.Header) (*WCS, error) {
	if hdr.Get("CTYPE1") == nil {
		return nil, nil
	}
	w := &WCS{
		CType1: headerString(hdr, "CTYPE1"),
		CType2: headerString(hdr, "CTYPE2"),
	}
	var err error
	for _, c := range []struct {
		name string
		dst  *float64
	}{
		{"CRPIX1", &w.CRPix1}, {"CRPIX2", &w.CRPix2},
		{"CRVAL1", &w.CRVal1}, {"CRVAL2", &w.CRVal2},
		{"CDELT1", &w.CDelt1}, {"CDELT2", &w.CDelt2},
	} {
		if *c.dst, err = headerFloat(hdr, c.name); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func headerString(hdr *fitsio.Header, name string) string {
	card := hdr.Get(name)
	if card == nil {
		return ""
	}
	s, _ := card.Value.(string)
	return s
}

func headerFloat(hdr *fitsio.Header, name string) (float64, error) {
	card := hdr.Get(name)
	if card == nil {
		return 0, fmt.Errorf("batanalysis: the header is missing the %s keyword", name)
	}
	switch v := card.Value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("batanalysis: the %s keyword holds %T, not a number", name, card.Value)
	}
}

// parseBUnit maps the unit strings the ground software writes to
// dimensions. An empty string means dimensionless.
func parseBUnit(s string) (unit.Dimensions, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return nil, nil
	case "count", "counts":
		return countUnits, nil
	case "count/s", "counts/s", "count/sec", "counts/sec":
		return rateUnits, nil
	default:
		return nil, fmt.Errorf("batanalysis: unrecognized image unit %q", s)
	}
}

// formatBUnit is the inverse of parseBUnit.
func formatBUnit(d unit.Dimensions) string {
	switch {
	case d == nil:
		return ""
	case d.Matches(countUnits):
		return "count"
	case d.Matches(rateUnits):
		return "count/s"
	default:
		return d.String()
	}
}
