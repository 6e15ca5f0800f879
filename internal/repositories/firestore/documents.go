package firestore

import (
	"net/url"
	"strings"
	"time"

	domain "github.com/framefox/foxconnect/internal/domain"
)

type moneyDocument struct {
	Amount   int64  `firestore:"amount"`
	Currency string `firestore:"currency"`
}

func encodeMoney(m domain.Money) moneyDocument {
	return moneyDocument{Amount: m.Amount, Currency: strings.ToUpper(strings.TrimSpace(m.Currency))}
}

func (d moneyDocument) decode() domain.Money {
	return domain.Money{Amount: d.Amount, Currency: d.Currency}
}

type totalsDocument struct {
	Subtotal  moneyDocument `firestore:"subtotal"`
	Discounts moneyDocument `firestore:"discounts"`
	Shipping  moneyDocument `firestore:"shipping"`
	Tax       moneyDocument `firestore:"tax"`
	Total     moneyDocument `firestore:"total"`
}

func encodeTotals(t domain.OrderTotals) totalsDocument {
	return totalsDocument{
		Subtotal:  encodeMoney(t.Subtotal),
		Discounts: encodeMoney(t.Discounts),
		Shipping:  encodeMoney(t.Shipping),
		Tax:       encodeMoney(t.Tax),
		Total:     encodeMoney(t.Total),
	}
}

func (d totalsDocument) decode() domain.OrderTotals {
	return domain.OrderTotals{
		Subtotal:  d.Subtotal.decode(),
		Discounts: d.Discounts.decode(),
		Shipping:  d.Shipping.decode(),
		Tax:       d.Tax.decode(),
		Total:     d.Total.decode(),
	}
}

type cropDocument struct {
	X      int `firestore:"x"`
	Y      int `firestore:"y"`
	Width  int `firestore:"width"`
	Height int `firestore:"height"`
}

type printSizeDocument struct {
	Width  float64 `firestore:"width"`
	Height float64 `firestore:"height"`
	Unit   string  `firestore:"unit"`
}

type assignmentDocument struct {
	ImageID     string            `firestore:"imageId,omitempty"`
	Crop        cropDocument      `firestore:"crop"`
	Orientation string            `firestore:"orientation,omitempty"`
	FrameSKU    string            `firestore:"frameSku,omitempty"`
	Cost        moneyDocument     `firestore:"cost"`
	PrintSize   printSizeDocument `firestore:"printSize"`
	CountryCode string            `firestore:"countryCode,omitempty"`
}

func encodeAssignment(a domain.Assignment) assignmentDocument {
	return assignmentDocument{
		ImageID:     strings.TrimSpace(a.ImageID),
		Crop:        cropDocument{X: a.Crop.X, Y: a.Crop.Y, Width: a.Crop.Width, Height: a.Crop.Height},
		Orientation: string(a.Orientation),
		FrameSKU:    a.FrameSKU,
		Cost:        encodeMoney(a.Cost),
		PrintSize:   printSizeDocument{Width: a.PrintSize.Width, Height: a.PrintSize.Height, Unit: string(a.PrintSize.Unit)},
		CountryCode: a.CountryCode,
	}
}

func (d assignmentDocument) decode() domain.Assignment {
	return domain.Assignment{
		ImageID:     d.ImageID,
		Crop:        domain.CropRegion{X: d.Crop.X, Y: d.Crop.Y, Width: d.Crop.Width, Height: d.Crop.Height},
		Orientation: domain.Orientation(d.Orientation),
		FrameSKU:    d.FrameSKU,
		Cost:        d.Cost.decode(),
		PrintSize:   domain.PrintSize{Width: d.PrintSize.Width, Height: d.PrintSize.Height, Unit: domain.LengthUnit(d.PrintSize.Unit)},
		CountryCode: d.CountryCode,
	}
}

// keyPart escapes a value for use inside a composite document id.
func keyPart(value string) string {
	return url.PathEscape(strings.TrimSpace(value))
}

func timePtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
