package domain

import (
	"fmt"
	"strings"
)

// Mode is one of the four extraction functions a run can request.
type Mode int

const (
	ModePointPrecipitation Mode = iota + 1
	ModeZonalPrecipitation
	ModePointTemperature
	ModeZonalTemperature
)

var modeNames = map[Mode]string{
	ModePointPrecipitation: "GPMswat",
	ModeZonalPrecipitation: "GPMpolyCentroid",
	ModePointTemperature:   "GLDASwat",
	ModeZonalTemperature:   "GLDASpolyCentroid",
}

// AllModes lists the modes in their canonical order.
func AllModes() []Mode {
	return []Mode{ModePointPrecipitation, ModeZonalPrecipitation, ModePointTemperature, ModeZonalTemperature}
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode resolves a function name such as "GPMswat".
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(s)
	for m, name := range modeNames {
		if strings.EqualFold(name, s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown function %q", s)
}

// ParseModes resolves a list of function names, rejecting duplicates.
func ParseModes(names []string) ([]Mode, error) {
	modes := make([]Mode, 0, len(names))
	seen := make(map[Mode]bool, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		m, err := ParseMode(n)
		if err != nil {
			return nil, err
		}
		if seen[m] {
			return nil, fmt.Errorf("function %s requested twice", m)
		}
		seen[m] = true
		modes = append(modes, m)
	}
	if len(modes) == 0 {
		return nil, fmt.Errorf("no functions requested")
	}
	return modes, nil
}

func (m Mode) MarshalText() ([]byte, error) {
	if _, ok := modeNames[m]; !ok {
		return nil, fmt.Errorf("invalid mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Quantity is the variable the mode extracts.
func (m Mode) Quantity() Quantity {
	if m == ModePointTemperature || m == ModeZonalTemperature {
		return Temperature
	}
	return Precipitation
}

// Zonal reports whether the mode samples sub-basin centroids with zonal weights.
func (m Mode) Zonal() bool {
	return m == ModeZonalPrecipitation || m == ModeZonalTemperature
}

// LocationPrefix is prepended to a location's ID to form its name.
func (m Mode) LocationPrefix() string {
	switch m {
	case ModePointPrecipitation:
		return "precipitation"
	case ModeZonalPrecipitation:
		return "precip"
	default:
		return "temp"
	}
}

// MasterFile is the metadata table's file name.
func (m Mode) MasterFile() string {
	if m.Quantity() == Temperature {
		return "temp_Master.txt"
	}
	return "precipitationMaster.txt"
}

// HasGridLinks reports whether locations carry a fallback link into the
// historical product's grid (point precipitation only).
func (m Mode) HasGridLinks() bool {
	return m == ModePointPrecipitation
}
