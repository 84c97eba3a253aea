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
	"testing"

	"github.com/ctessum/sparse"
	"github.com/gonum/floats"
)

const testTolerance = 1.e-10

func TestNewEdgeSetValidation(t *testing.T) {
	tests := []struct {
		name     string
		min, max []float64
	}{
		{"empty", nil, nil},
		{"length mismatch", []float64{1, 2}, []float64{2}},
		{"inverted bin", []float64{1, 2}, []float64{3, 1.5}},
		{"empty bin", []float64{1, 2}, []float64{1, 3}},
		{"unsorted minima", []float64{2, 1}, []float64{3, 4}},
	}
	for _, test := range tests {
		if _, err := NewEdgeSet(test.min, test.max, energyUnits); err == nil {
			t.Errorf("%s: expected an error", test.name)
		}
	}
	if _, err := NewEdgeSet([]float64{15, 25}, []float64{25, 50}, energyUnits); err != nil {
		t.Errorf("valid edge set: %v", err)
	}
}

func TestContiguous(t *testing.T) {
	contig, err := NewEdgeSet([]float64{15, 25, 50}, []float64{25, 50, 100}, energyUnits)
	if err != nil {
		t.Fatal(err)
	}
	if !contig.Contiguous() {
		t.Error("contiguous edge set reported as non-contiguous")
	}
	gap, err := NewEdgeSet([]float64{15, 50}, []float64{25, 100}, energyUnits)
	if err != nil {
		t.Fatal(err)
	}
	if gap.Contiguous() {
		t.Error("gapped edge set reported as contiguous")
	}
	single, err := NewScalarEdgeSet(15, 350, energyUnits)
	if err != nil {
		t.Fatal(err)
	}
	if !single.Contiguous() {
		t.Error("a single bin is always contiguous")
	}
}

func TestReconcileContiguous(t *testing.T) {
	e, err := NewEdgeSet([]float64{15, 25, 50}, []float64{25, 50, 100}, energyUnits)
	if err != nil {
		t.Fatal(err)
	}
	r, err := e.Reconcile()
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{15, 25, 50, 100}
	if !floats.Equal(r.Edges, want) {
		t.Errorf("edges: got %v, want %v", r.Edges, want)
	}
	if r.NBins() != e.NBins() {
		t.Errorf("contiguous reconciliation changed the bin count from %d to %d", e.NBins(), r.NBins())
	}
}

func TestReconcileIdempotent(t *testing.T) {
	e, err := EdgeSetFromEdges([]float64{15, 25, 50, 100, 350}, energyUnits)
	if err != nil {
		t.Fatal(err)
	}
	r1, err := e.Reconcile()
	if err != nil {
		t.Fatal(err)
	}
	e2, err := EdgeSetFromEdges(r1.Edges, energyUnits)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := e2.Reconcile()
	if err != nil {
		t.Fatal(err)
	}
	if !floats.Equal(r1.Edges, r2.Edges) {
		t.Errorf("reconciliation is not idempotent: %v then %v", r1.Edges, r2.Edges)
	}
}

func TestReconcileOverlapping(t *testing.T) {
	e, err := NewEdgeSet([]float64{14, 15}, []float64{20, 25}, energyUnits)
	if err != nil {
		t.Fatal(err)
	}
	r, err := e.Reconcile()
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{14, 15, 20, 25}
	if !floats.Equal(r.Edges, want) {
		t.Errorf("edges: got %v, want %v", r.Edges, want)
	}

	data := sparse.ZerosDense(1, 2)
	data.Set(1, 0, 0)
	data.Set(2, 0, 1)
	out, err := r.Redistribute(data)
	if err != nil {
		t.Fatal(err)
	}
	wantData := []float64{1, 2, 0}
	if !floats.EqualApprox(out.Elements, wantData, testTolerance) {
		t.Errorf("redistributed contents: got %v, want %v", out.Elements, wantData)
	}
}

func TestReconcileGap(t *testing.T) {
	e, err := NewEdgeSet([]float64{15, 25}, []float64{20, 30}, energyUnits)
	if err != nil {
		t.Fatal(err)
	}
	r, err := e.Reconcile()
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{15, 20, 25, 30}
	if !floats.Equal(r.Edges, want) {
		t.Errorf("edges: got %v, want %v", r.Edges, want)
	}

	data := sparse.ZerosDense(2, 2)
	data.Set(5, 0, 0)
	data.Set(7, 0, 1)
	data.Set(11, 1, 0)
	data.Set(13, 1, 1)
	out, err := r.Redistribute(data)
	if err != nil {
		t.Fatal(err)
	}
	wantData := []float64{5, 0, 7, 11, 0, 13}
	if !floats.EqualApprox(out.Elements, wantData, testTolerance) {
		t.Errorf("redistributed contents: got %v, want %v", out.Elements, wantData)
	}
}

func TestRedistributeShapeMismatch(t *testing.T) {
	e, err := NewEdgeSet([]float64{15, 25}, []float64{20, 30}, energyUnits)
	if err != nil {
		t.Fatal(err)
	}
	r, err := e.Reconcile()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Redistribute(sparse.ZerosDense(1, 3)); err == nil {
		t.Error("expected an error for a last-axis length mismatch")
	}
}

func TestExposure(t *testing.T) {
	g := GoodTimeInterval{Start: []float64{10, 30}, Stop: []float64{20, 45}}
	if e := g.Exposure(); e != 25 {
		t.Errorf("exposure: got %g, want 25", e)
	}
}
