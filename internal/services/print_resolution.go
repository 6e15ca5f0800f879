package services

import (
	"math"

	"github.com/shopspring/decimal"

	domain "github.com/framefox/foxconnect/internal/domain"
)

// ResolutionBand classifies a print resolution for reporting.
type ResolutionBand string

const (
	ResolutionUnknown    ResolutionBand = "unknown"
	ResolutionLow        ResolutionBand = "low"
	ResolutionAcceptable ResolutionBand = "acceptable"
	ResolutionHigh       ResolutionBand = "high"
)

// Policy thresholds in dots per inch.
const (
	AcceptableDPIThreshold = 125
	HighDPIThreshold       = 200
)

var (
	millimetresPerInch = decimal.RequireFromString("25.4")
	centimetresPerInch = decimal.RequireFromString("2.54")
)

// PrintResolution is the limiting DPI of a crop printed at a physical size.
type PrintResolution struct {
	DPI       int
	DPIWidth  int
	DPIHeight int
	Defined   bool
	Band      ResolutionBand
}

// ComputeDPI returns the limiting resolution of the crop printed at size. The second result is
// false when the crop or the print size is missing or non-positive, or the unit is unknown.
func ComputeDPI(crop domain.CropRegion, size domain.PrintSize, orientation domain.Orientation) (int, bool) {
	res := computePrintResolution(crop, size, orientation)
	return res.DPI, res.Defined
}

// ClassifyDPI maps a DPI value onto the reporting bands.
func ClassifyDPI(dpi int) ResolutionBand {
	switch {
	case dpi >= HighDPIThreshold:
		return ResolutionHigh
	case dpi >= AcceptableDPIThreshold:
		return ResolutionAcceptable
	default:
		return ResolutionLow
	}
}

// MappingResolution evaluates the print resolution of an assignment's crop at its print size.
func MappingResolution(assignment domain.Assignment) PrintResolution {
	return computePrintResolution(assignment.Crop, assignment.PrintSize, assignment.Orientation)
}

func computePrintResolution(crop domain.CropRegion, size domain.PrintSize, orientation domain.Orientation) PrintResolution {
	undefined := PrintResolution{Band: ResolutionUnknown}
	if crop.Width <= 0 || crop.Height <= 0 {
		return undefined
	}
	if !finitePositive(size.Width) || !finitePositive(size.Height) {
		return undefined
	}
	unitsPerInch, ok := unitsPerInch(size.Unit)
	if !ok {
		return undefined
	}

	physWidth := decimal.NewFromFloat(size.Width)
	physHeight := decimal.NewFromFloat(size.Height)
	switch orientation {
	case domain.OrientationLandscape:
		if physHeight.GreaterThan(physWidth) {
			physWidth, physHeight = physHeight, physWidth
		}
	case domain.OrientationPortrait:
		if physWidth.GreaterThan(physHeight) {
			physWidth, physHeight = physHeight, physWidth
		}
	}

	// px / (len / unitsPerInch) == px * unitsPerInch / len, which avoids a lossy intermediate.
	dpiWidth := decimal.NewFromInt(int64(crop.Width)).Mul(unitsPerInch).Div(physWidth).Round(0).IntPart()
	dpiHeight := decimal.NewFromInt(int64(crop.Height)).Mul(unitsPerInch).Div(physHeight).Round(0).IntPart()

	dpi := int(min(dpiWidth, dpiHeight))
	return PrintResolution{
		DPI:       dpi,
		DPIWidth:  int(dpiWidth),
		DPIHeight: int(dpiHeight),
		Defined:   true,
		Band:      ClassifyDPI(dpi),
	}
}

func unitsPerInch(unit domain.LengthUnit) (decimal.Decimal, bool) {
	switch unit {
	case domain.UnitMillimetre:
		return millimetresPerInch, true
	case domain.UnitCentimetre:
		return centimetresPerInch, true
	case domain.UnitInch:
		return decimal.NewFromInt(1), true
	default:
		return decimal.Decimal{}, false
	}
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
