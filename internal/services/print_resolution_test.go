package services

import (
	"math"
	"testing"

	domain "github.com/framefox/foxconnect/internal/domain"
)

func TestComputeDPI(t *testing.T) {
	inches := func(w, h float64) domain.PrintSize {
		return domain.PrintSize{Width: w, Height: h, Unit: domain.UnitInch}
	}
	tests := []struct {
		name        string
		crop        domain.CropRegion
		size        domain.PrintSize
		orientation domain.Orientation
		wantDPI     int
		wantOK      bool
		wantBand    ResolutionBand
	}{
		{
			name:     "limiting height",
			crop:     domain.CropRegion{Width: 3000, Height: 2000},
			size:     inches(10, 8),
			wantDPI:  250,
			wantOK:   true,
			wantBand: ResolutionHigh,
		},
		{
			name:     "low resolution",
			crop:     domain.CropRegion{Width: 600, Height: 400},
			size:     inches(10, 8),
			wantDPI:  50,
			wantOK:   true,
			wantBand: ResolutionLow,
		},
		{
			name:     "millimetres",
			crop:     domain.CropRegion{Width: 2362, Height: 2362},
			size:     domain.PrintSize{Width: 300, Height: 300, Unit: domain.UnitMillimetre},
			wantDPI:  200,
			wantOK:   true,
			wantBand: ResolutionHigh,
		},
		{
			name:     "centimetres acceptable",
			crop:     domain.CropRegion{Width: 1500, Height: 1500},
			size:     domain.PrintSize{Width: 25.4, Height: 25.4, Unit: domain.UnitCentimetre},
			wantDPI:  150,
			wantOK:   true,
			wantBand: ResolutionAcceptable,
		},
		{
			name:        "portrait swaps long side onto height",
			crop:        domain.CropRegion{Width: 2000, Height: 3000},
			size:        inches(10, 8),
			orientation: domain.OrientationPortrait,
			wantDPI:     250,
			wantOK:      true,
			wantBand:    ResolutionHigh,
		},
		{
			name:        "landscape keeps long side on width",
			crop:        domain.CropRegion{Width: 3000, Height: 2000},
			size:        inches(8, 10),
			orientation: domain.OrientationLandscape,
			wantDPI:     250,
			wantOK:      true,
			wantBand:    ResolutionHigh,
		},
		{
			name:     "rounds half away from zero",
			crop:     domain.CropRegion{Width: 249, Height: 1000},
			size:     inches(2, 1),
			wantDPI:  125,
			wantOK:   true,
			wantBand: ResolutionAcceptable,
		},
		{
			name: "missing crop",
			crop: domain.CropRegion{Width: 0, Height: 2000},
			size: inches(10, 8),
		},
		{
			name: "zero print dimension",
			crop: domain.CropRegion{Width: 3000, Height: 2000},
			size: inches(0, 8),
		},
		{
			name: "negative print dimension",
			crop: domain.CropRegion{Width: 3000, Height: 2000},
			size: inches(10, -8),
		},
		{
			name: "NaN print dimension",
			crop: domain.CropRegion{Width: 3000, Height: 2000},
			size: inches(math.NaN(), 8),
		},
		{
			name: "infinite print dimension",
			crop: domain.CropRegion{Width: 3000, Height: 2000},
			size: inches(10, math.Inf(1)),
		},
		{
			name: "unknown unit",
			crop: domain.CropRegion{Width: 3000, Height: 2000},
			size: domain.PrintSize{Width: 10, Height: 8, Unit: "ft"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dpi, ok := ComputeDPI(tc.crop, tc.size, tc.orientation)
			if ok != tc.wantOK {
				t.Fatalf("expected defined=%v, got %v (dpi %d)", tc.wantOK, ok, dpi)
			}
			if !ok {
				return
			}
			if dpi != tc.wantDPI {
				t.Fatalf("expected dpi %d, got %d", tc.wantDPI, dpi)
			}
			if band := ClassifyDPI(dpi); band != tc.wantBand {
				t.Fatalf("expected band %s, got %s", tc.wantBand, band)
			}
		})
	}
}

func TestClassifyDPIBoundaries(t *testing.T) {
	cases := map[int]ResolutionBand{
		0:   ResolutionLow,
		124: ResolutionLow,
		125: ResolutionAcceptable,
		199: ResolutionAcceptable,
		200: ResolutionHigh,
		600: ResolutionHigh,
	}
	for dpi, want := range cases {
		if got := ClassifyDPI(dpi); got != want {
			t.Fatalf("dpi %d: expected %s, got %s", dpi, want, got)
		}
	}
}

func TestMappingResolutionReportsComponents(t *testing.T) {
	res := MappingResolution(domain.Assignment{
		Crop:      domain.CropRegion{X: 10, Y: 10, Width: 3000, Height: 2000},
		PrintSize: domain.PrintSize{Width: 10, Height: 8, Unit: domain.UnitInch},
	})
	if !res.Defined {
		t.Fatalf("expected defined resolution")
	}
	if res.DPIWidth != 300 || res.DPIHeight != 250 || res.DPI != 250 {
		t.Fatalf("unexpected resolution %+v", res)
	}

	missing := MappingResolution(domain.Assignment{})
	if missing.Defined || missing.Band != ResolutionUnknown {
		t.Fatalf("expected unknown resolution, got %+v", missing)
	}
}
