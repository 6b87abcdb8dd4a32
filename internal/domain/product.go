package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Quantity is the physical variable a product measures.
type Quantity int

const (
	Precipitation Quantity = iota + 1
	Temperature
)

func (q Quantity) String() string {
	switch q {
	case Precipitation:
		return "precipitation"
	case Temperature:
		return "temperature"
	default:
		return "unknown"
	}
}

// ProductID names a remote grid product.
type ProductID string

const (
	ProductTRMM  ProductID = "TRMM"
	ProductIMERG ProductID = "IMERG"
	ProductGLDAS ProductID = "GLDAS"
)

// DirLayout is how a product's archive is partitioned into directories.
type DirLayout int

const (
	// LayoutYearMonth is <base>/<YYYY>/<MM>/ holding one file per day.
	LayoutYearMonth DirLayout = iota + 1
	// LayoutYearDay is <base>/<YYYY>/<DDD>/ holding the sub-daily files of one day.
	LayoutYearDay
)

// Axes is the storage order of a product's 2-D variable.
type Axes int

const (
	AxesLatLon Axes = iota + 1
	AxesLonLat
)

// Product describes one remote grid product.
type Product struct {
	ID       ProductID
	Quantity Quantity
	BaseURL  string
	Layout   DirLayout
	Pattern  *regexp.Regexp
	Variable string
	Units    string
	SubDaily bool
	Axes     Axes
	// SouthUp is set when row 0 of the stored variable is the southernmost
	// latitude and rows must be flipped to reach north-up.
	SouthUp bool
}

// DirectoryURL returns the listing URL holding the product's files for day.
func (p Product) DirectoryURL(day time.Time) string {
	base := strings.TrimSuffix(p.BaseURL, "/") + "/"
	switch p.Layout {
	case LayoutYearDay:
		return fmt.Sprintf("%s%04d/%03d/", base, day.Year(), day.YearDay())
	default:
		return fmt.Sprintf("%s%04d/%02d/", base, day.Year(), int(day.Month()))
	}
}

// TRMMProduct is the TRMM 3B42RT daily product used before the cutover.
func TRMMProduct(baseURL string) Product {
	return Product{
		ID:       ProductTRMM,
		Quantity: Precipitation,
		BaseURL:  baseURL,
		Layout:   LayoutYearMonth,
		Pattern:  regexp.MustCompile(`3B42.+\.nc4$`),
		Variable: "precipitation",
		Units:    "mm",
		Axes:     AxesLonLat,
		SouthUp:  true,
	}
}

// IMERGProduct is the GPM IMERG final daily product used from the cutover on.
func IMERGProduct(baseURL string) Product {
	return Product{
		ID:       ProductIMERG,
		Quantity: Precipitation,
		BaseURL:  baseURL,
		Layout:   LayoutYearMonth,
		Pattern:  regexp.MustCompile(`3B-DAY.+\.nc4$`),
		Variable: "precipitationCal",
		Units:    "mm",
		Axes:     AxesLonLat,
		SouthUp:  true,
	}
}

// GLDASProduct is the GLDAS Noah 0.25 degree 3-hourly product.
func GLDASProduct(baseURL string) Product {
	return Product{
		ID:       ProductGLDAS,
		Quantity: Temperature,
		BaseURL:  baseURL,
		Layout:   LayoutYearDay,
		Pattern:  regexp.MustCompile(`GLDAS.+\.nc4$`),
		Variable: "Tair_f_inst",
		Units:    "K",
		SubDaily: true,
		Axes:     AxesLatLon,
		SouthUp:  true,
	}
}

// Catalog holds the products and the calendar rules that choose between them.
type Catalog struct {
	Historical  Product
	Current     Product
	Temperature Product

	Cutover     time.Time
	PrecipEpoch time.Time
	TempEpoch   time.Time
}

// PrecipitationFor returns the precipitation product serving day:
// the historical product before the cutover, the current one from it on.
func (c Catalog) PrecipitationFor(day time.Time) Product {
	if day.Before(c.Cutover) {
		return c.Historical
	}
	return c.Current
}

// ProductFor returns the product a mode reads on day.
func (c Catalog) ProductFor(q Quantity, day time.Time) Product {
	if q == Temperature {
		return c.Temperature
	}
	return c.PrecipitationFor(day)
}

// Epoch returns the earliest supported start date for a quantity.
func (c Catalog) Epoch(q Quantity) time.Time {
	if q == Temperature {
		return c.TempEpoch
	}
	return c.PrecipEpoch
}
