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

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// NetCDF interchange format for sky images. Unlike the FITS layout,
// this stores the full histogram in one variable and therefore also
// handles HEALPix-gridded images.

// WriteNetCDF writes the sky image to a NetCDF file.
func (si *SkyImage) WriteNetCDF(w *os.File) error {
	labels := si.Labels()
	dims := make([]string, len(labels))
	lengths := make([]int, 0, len(labels)+2)
	for i, l := range labels {
		dims[i] = l
		lengths = append(lengths, si.Axes()[i].NBins())
	}
	dims = append(dims, "TIME_EDGE", "ENERGY_EDGE")
	lengths = append(lengths, len(si.Axis(AxisTime).Edges), len(si.Axis(AxisEnergy).Edges))

	h := cdf.NewHeader(dims, lengths)
	h.AddAttribute("", "comment", "BatAnalysis sky image interchange file")
	h.AddAttribute("", "image_type", si.Type.String())
	mosaic := int32(0)
	if si.MosaicIntermediate {
		mosaic = 1
	}
	h.AddAttribute("", "mosaic_intermediate", []int32{mosaic})
	if si.Axis(AxisHealpix) != nil {
		h.AddAttribute("", "nside", []int32{int32(si.NSide)})
		h.AddAttribute("", "frame", si.Frame)
	}
	if si.WCS != nil {
		h.AddAttribute("", "crpix", []float64{si.WCS.CRPix1, si.WCS.CRPix2})
		h.AddAttribute("", "crval", []float64{si.WCS.CRVal1, si.WCS.CRVal2})
		h.AddAttribute("", "cdelt", []float64{si.WCS.CDelt1, si.WCS.CDelt2})
	}

	h.AddVariable("image", labels, []float64{0})
	h.AddAttribute("image", "units", formatBUnit(si.Units))
	h.AddVariable("time_edges", []string{"TIME_EDGE"}, []float64{0})
	h.AddAttribute("time_edges", "units", "s")
	h.AddVariable("energy_edges", []string{"ENERGY_EDGE"}, []float64{0})
	h.AddAttribute("energy_edges", "units", "keV")
	h.Define()

	f, err := cdf.Create(w, h)
	if err != nil {
		return fmt.Errorf("batanalysis: creating NetCDF file: %v", err)
	}
	if err := writeNCF(f, "image", si.Data); err != nil {
		return err
	}
	if err := writeVector(f, "time_edges", si.Axis(AxisTime).Edges); err != nil {
		return err
	}
	if err := writeVector(f, "energy_edges", si.Axis(AxisEnergy).Edges); err != nil {
		return err
	}
	return cdf.UpdateNumRecs(w)
}

// ReadNetCDF reads a sky image from a NetCDF file written by
// WriteNetCDF.
func ReadNetCDF(r *os.File) (*SkyImage, error) {
	f, err := cdf.Open(r)
	if err != nil {
		return nil, fmt.Errorf("batanalysis: opening NetCDF file: %v", err)
	}

	typeName, _ := f.Header.GetAttribute("", "image_type").(string)
	imgType, err := ParseImageType(typeName)
	if err != nil {
		return nil, err
	}
	mosaic := false
	if m, ok := f.Header.GetAttribute("", "mosaic_intermediate").([]int32); ok && len(m) > 0 {
		mosaic = m[0] != 0
	}
	var w *WCS
	if crpix, ok := f.Header.GetAttribute("", "crpix").([]float64); ok {
		crval := f.Header.GetAttribute("", "crval").([]float64)
		cdelt := f.Header.GetAttribute("", "cdelt").([]float64)
		w = &WCS{
			CType1: "RA---TAN", CType2: "DEC--TAN",
			CRPix1: crpix[0], CRPix2: crpix[1],
			CRVal1: crval[0], CRVal2: crval[1],
			CDelt1: cdelt[0], CDelt2: cdelt[1],
		}
	}

	timeEdges, err := readVector(f, "time_edges")
	if err != nil {
		return nil, err
	}
	energyEdges, err := readVector(f, "energy_edges")
	if err != nil {
		return nil, err
	}
	units, err := parseBUnit(stringAttr(f, "image", "units"))
	if err != nil {
		return nil, err
	}

	data, err := readNCF(f, "image")
	if err != nil {
		return nil, err
	}

	cfg := SkyImageConfig{
		Data:               data,
		TimeBins:           timeEdges,
		EnergyBins:         energyEdges,
		WCS:                w,
		Units:              units,
		Type:               imgType,
		MosaicIntermediate: mosaic,
	}
	if nside, ok := f.Header.GetAttribute("", "nside").([]int32); ok && len(nside) > 0 {
		cfg.NSide = int(nside[0])
		cfg.Frame, _ = f.Header.GetAttribute("", "frame").(string)
	}
	return NewSkyImage(cfg)
}

// writeNCF writes a dense array to a NetCDF variable, checking that the
// variable's declared lengths match the array shape.
func writeNCF(f *cdf.File, v string, data *sparse.DenseArray) error {
	n := 1
	for _, d := range data.Shape {
		n *= d
	}
	if len(data.Elements) != n {
		return fmt.Errorf("batanalysis: variable %s dims hold %d values but the array holds %d",
			v, n, len(data.Elements))
	}
	end := f.Header.Lengths(v)
	start := make([]int, len(end))
	w := f.Writer(v, start, end)
	if _, err := w.Write(data.Elements); err != nil {
		return fmt.Errorf("batanalysis: writing variable %s: %v", v, err)
	}
	return nil
}

func writeVector(f *cdf.File, v string, data []float64) error {
	end := f.Header.Lengths(v)
	start := make([]int, len(end))
	w := f.Writer(v, start, end)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("batanalysis: writing variable %s: %v", v, err)
	}
	return nil
}

// readNCF reads a full NetCDF variable into a dense array.
func readNCF(f *cdf.File, v string) (*sparse.DenseArray, error) {
	dims := f.Header.Lengths(v)
	if len(dims) == 0 {
		return nil, fmt.Errorf("batanalysis: the NetCDF file has no variable %s", v)
	}
	r := f.Reader(v, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("batanalysis: reading variable %s: %v", v, err)
	}
	vals, ok := buf.([]float64)
	if !ok {
		return nil, fmt.Errorf("batanalysis: variable %s is not double precision", v)
	}
	data := sparse.ZerosDense(dims...)
	copy(data.Elements, vals)
	return data, nil
}

func readVector(f *cdf.File, v string) ([]float64, error) {
	data, err := readNCF(f, v)
	if err != nil {
		return nil, err
	}
	return data.Elements, nil
}

func stringAttr(f *cdf.File, v, a string) string {
	s, _ := f.Header.GetAttribute(v, a).(string)
	return s
}
