package factor

import (
	"fmt"
	"math"
	"testing"
)

func TestLayerReturnsPartition(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		layers    int
		wantSizes []int
	}{
		{name: "even split", count: 10, layers: 5, wantSizes: []int{2, 2, 2, 2, 2}},
		{name: "remainder goes to leading layers", count: 11, layers: 5, wantSizes: []int{3, 2, 2, 2, 2}},
		{name: "fewer rows than layers", count: 3, layers: 5, wantSizes: []int{1, 1, 1}},
		{name: "single layer", count: 4, layers: 1, wantSizes: []int{4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := make([]Observation, tt.count)
			for i := range obs {
				// Dataset ordering: factor descending.
				obs[i] = Observation{
					Code:   fmt.Sprintf("sh%06d", i),
					Factor: float64(tt.count - i),
					FwdRet: fp(float64(i) * 0.001),
				}
			}
			stats := LayerReturns(obs, tt.layers)
			if len(stats) != len(tt.wantSizes) {
				t.Fatalf("layer count = %d, want %d", len(stats), len(tt.wantSizes))
			}

			total := 0
			minSize, maxSize := tt.count, 0
			for i, layer := range stats {
				if layer.Layer != i+1 {
					t.Errorf("layer id = %d, want %d", layer.Layer, i+1)
				}
				if layer.N != tt.wantSizes[i] {
					t.Errorf("layer %d size = %d, want %d", layer.Layer, layer.N, tt.wantSizes[i])
				}
				total += layer.N
				if layer.N < minSize {
					minSize = layer.N
				}
				if layer.N > maxSize {
					maxSize = layer.N
				}
			}
			if total != tt.count {
				t.Errorf("layer sizes sum to %d, want %d", total, tt.count)
			}
			if maxSize-minSize > 1 {
				t.Errorf("layer sizes differ by %d, want at most 1", maxSize-minSize)
			}
		})
	}
}

func TestLayerReturnsTopLayerHoldsHighestFactors(t *testing.T) {
	// Factor descending with returns aligned so the top layer must have
	// the highest mean return.
	obs := []Observation{
		{Code: "a", Factor: 5, FwdRet: fp(0.05)},
		{Code: "b", Factor: 4, FwdRet: fp(0.04)},
		{Code: "c", Factor: 3, FwdRet: fp(0.01)},
		{Code: "d", Factor: 2, FwdRet: fp(-0.01)},
		{Code: "e", Factor: 1, FwdRet: fp(-0.02)},
		{Code: "f", Factor: 0, FwdRet: fp(-0.04)},
	}
	stats := LayerReturns(obs, 3)
	if len(stats) != 3 {
		t.Fatalf("expected 3 layers, got %d", len(stats))
	}
	if math.Abs(stats[0].AvgRet-0.045) > 1e-12 {
		t.Errorf("layer 1 avg = %v, want 0.045", stats[0].AvgRet)
	}
	if math.Abs(stats[2].AvgRet-(-0.03)) > 1e-12 {
		t.Errorf("layer 3 avg = %v, want -0.03", stats[2].AvgRet)
	}
}

func TestLayerReturnsSkipsMissingForwardReturns(t *testing.T) {
	obs := []Observation{
		{Code: "a", Factor: 3, FwdRet: fp(0.01)},
		{Code: "b", Factor: 2, FwdRet: nil},
		{Code: "c", Factor: 1, FwdRet: fp(0.03)},
	}
	stats := LayerReturns(obs, 2)
	total := 0
	for _, layer := range stats {
		total += layer.N
	}
	if total != 2 {
		t.Fatalf("layer sample total = %d, want 2 (nil forward return excluded)", total)
	}
}

func TestLayerReturnsEmpty(t *testing.T) {
	if stats := LayerReturns(nil, 5); stats != nil {
		t.Fatalf("expected no layers for an empty cross-section, got %v", stats)
	}
}
