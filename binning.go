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
	"sort"

	"github.com/ctessum/sparse"
	"github.com/ctessum/unit"
	"github.com/gonum/floats"
)

// Dimensions for the quantities that BAT data products carry.
// Energies are in keV and image contents are in detector counts;
// both are orthogonal to the SI base dimensions.
var (
	// EnergyDim is the dimension representing photon energy [keV].
	EnergyDim unit.Dimension
	// CountDim is the dimension representing detector counts.
	CountDim unit.Dimension
)

func init() {
	EnergyDim = unit.NewDimension("keV")
	CountDim = unit.NewDimension("count")
}

// KeV returns an energy quantity [keV].
func KeV(v float64) *unit.Unit {
	return unit.New(v, unit.Dimensions{EnergyDim: 1})
}

// Seconds returns a time quantity [s].
func Seconds(v float64) *unit.Unit {
	return unit.New(v, unit.Dimensions{unit.TimeDim: 1})
}

// Counts returns a detector-count quantity.
func Counts(v float64) *unit.Unit {
	return unit.New(v, unit.Dimensions{CountDim: 1})
}

// Unit sets commonly attached to axes and image contents.
var (
	energyUnits = unit.Dimensions{EnergyDim: 1}
	timeUnits   = unit.Dimensions{unit.TimeDim: 1}
	countUnits  = unit.Dimensions{CountDim: 1}
	rateUnits   = unit.Dimensions{CountDim: 1, unit.TimeDim: -1}
)

// An EdgeSet holds the half-open interval boundaries of a binned axis
// as parallel minimum and maximum arrays with a physical unit.
// The intervals may overlap, be contiguous, or have gaps between them.
type EdgeSet struct {
	Min, Max []float64
	Units    unit.Dimensions
}

// NewEdgeSet creates an EdgeSet from parallel boundary arrays.
// The arrays must have equal nonzero length, each maximum must exceed
// its minimum, and the minima must be strictly increasing.
func NewEdgeSet(min, max []float64, units unit.Dimensions) (EdgeSet, error) {
	if len(min) == 0 || len(max) == 0 {
		return EdgeSet{}, fmt.Errorf("batanalysis: an edge set requires at least one bin")
	}
	if len(min) != len(max) {
		return EdgeSet{}, fmt.Errorf("batanalysis: edge set minima and maxima have different lengths (%d and %d)",
			len(min), len(max))
	}
	for i := range min {
		if max[i] <= min[i] {
			return EdgeSet{}, fmt.Errorf("batanalysis: edge set bin %d is empty or inverted (%g >= %g)",
				i, min[i], max[i])
		}
		if i > 0 && min[i] <= min[i-1] {
			return EdgeSet{}, fmt.Errorf("batanalysis: edge set minima must be strictly increasing")
		}
	}
	return EdgeSet{Min: min, Max: max, Units: units}, nil
}

// NewScalarEdgeSet promotes a single scalar bin to a one-element EdgeSet.
func NewScalarEdgeSet(min, max float64, units unit.Dimensions) (EdgeSet, error) {
	return NewEdgeSet([]float64{min}, []float64{max}, units)
}

// EdgeSetFromEdges creates an EdgeSet from an ascending array of shared
// bin edges, so that bin i spans [edges[i], edges[i+1]).
func EdgeSetFromEdges(edges []float64, units unit.Dimensions) (EdgeSet, error) {
	if len(edges) < 2 {
		return EdgeSet{}, fmt.Errorf("batanalysis: at least 2 bin edges are required, got %d", len(edges))
	}
	return NewEdgeSet(edges[:len(edges)-1], edges[1:], units)
}

// NBins returns the number of bins in the set.
func (e EdgeSet) NBins() int { return len(e.Min) }

// Contiguous reports whether each bin begins where the previous one ends.
func (e EdgeSet) Contiguous() bool {
	if e.NBins() < 2 {
		return true
	}
	return floats.Equal(e.Min[1:], e.Max[:len(e.Max)-1])
}

// ReconciledEdges is an ascending, duplicate-free boundary array produced
// by merging the boundaries of an EdgeSet. It remembers where each of the
// original bins lands in the merged binning so that existing bin contents
// can be redistributed.
type ReconciledEdges struct {
	Edges []float64
	Units unit.Dimensions

	// srcIndex[j] is the bin index in the merged binning at which
	// original bin j begins.
	srcIndex []int
	nSrc     int
}

// Reconcile merges the set's boundaries into a single ascending,
// duplicate-free edge array in which every original minimum and maximum
// appears. Contiguous input takes a direct concatenation fast path.
func (e EdgeSet) Reconcile() (ReconciledEdges, error) {
	if e.NBins() == 0 {
		return ReconciledEdges{}, fmt.Errorf("batanalysis: cannot reconcile an empty edge set")
	}
	var edges []float64
	if e.Contiguous() {
		edges = make([]float64, 0, e.NBins()+1)
		edges = append(edges, e.Min...)
		edges = append(edges, e.Max[len(e.Max)-1])
	} else {
		combined := make([]float64, 0, 2*e.NBins())
		combined = append(combined, e.Min...)
		combined = append(combined, e.Max...)
		sort.Float64s(combined)
		edges = combined[:0]
		for i, v := range combined {
			if i == 0 || v != edges[len(edges)-1] {
				edges = append(edges, v)
			}
		}
	}
	idx := make([]int, e.NBins())
	for j, lo := range e.Min {
		idx[j] = sort.SearchFloat64s(edges[:len(edges)-1], lo)
	}
	return ReconciledEdges{Edges: edges, Units: e.Units, srcIndex: idx, nSrc: e.NBins()}, nil
}

// NBins returns the number of bins in the merged binning.
func (r ReconciledEdges) NBins() int { return len(r.Edges) - 1 }

// Redistribute places the contents of an array binned by the original
// edge set into a zero-filled array whose last axis matches the merged
// binning. The last axis of data must have one element per original bin.
func (r ReconciledEdges) Redistribute(data *sparse.DenseArray) (*sparse.DenseArray, error) {
	nd := len(data.Shape)
	if nd == 0 || data.Shape[nd-1] != r.nSrc {
		return nil, fmt.Errorf("batanalysis: cannot redistribute array with last-axis length %d over %d original bins",
			data.Shape[nd-1], r.nSrc)
	}
	if r.NBins() == r.nSrc {
		return data.Copy(), nil
	}
	outShape := make([]int, nd)
	copy(outShape, data.Shape)
	outShape[nd-1] = r.NBins()
	out := sparse.ZerosDense(outShape...)
	for i, v := range data.Elements {
		idx := data.IndexNd(i)
		idx[nd-1] = r.srcIndex[idx[nd-1]]
		out.Set(v, idx...)
	}
	return out, nil
}

// GoodTimeInterval describes the span during which the data in a product
// are valid for analysis.
type GoodTimeInterval struct {
	Start, Stop, Center []float64 // [s]
}

// Exposure returns the total exposure duration (stop − start) [s].
func (g GoodTimeInterval) Exposure() float64 {
	var e float64
	for i := range g.Start {
		e += g.Stop[i] - g.Start[i]
	}
	return e
}

// TimeBins is per-bin time bookkeeping for a binned product.
type TimeBins struct {
	Start, Stop, Center []float64 // [s]
}

// EnergyBins is per-bin energy bookkeeping for a binned product.
// Index is 1-based, matching the EBOUNDS table convention.
type EnergyBins struct {
	Index    []int
	Min, Max []float64 // [keV]
}

// timeBinsFromEdges derives TimeBins bookkeeping from shared bin edges.
func timeBinsFromEdges(edges []float64) TimeBins {
	n := len(edges) - 1
	t := TimeBins{
		Start:  make([]float64, n),
		Stop:   make([]float64, n),
		Center: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		t.Start[i] = edges[i]
		t.Stop[i] = edges[i+1]
		t.Center[i] = 0.5 * (edges[i] + edges[i+1])
	}
	return t
}

// energyBinsFromEdges derives EnergyBins bookkeeping from shared bin edges.
func energyBinsFromEdges(edges []float64) EnergyBins {
	n := len(edges) - 1
	e := EnergyBins{
		Index: make([]int, n),
		Min:   make([]float64, n),
		Max:   make([]float64, n),
	}
	for i := 0; i < n; i++ {
		e.Index[i] = i + 1
		e.Min[i] = edges[i]
		e.Max[i] = edges[i+1]
	}
	return e
}
