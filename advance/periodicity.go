package advance

import (
	"fmt"
	"strings"
)

// =============================================================================
// PERIODICITY - Interval between installments
// =============================================================================

type Periodicity string

const (
	Monthly   Periodicity = "monthly"
	Bimonthly Periodicity = "bimonthly"
	Quarterly Periodicity = "quarterly"
	Annual    Periodicity = "annual"
)

// Months returns the interval in months. Unknown periodicities map to 0,
// which no plan operation accepts.
func (p Periodicity) Months() int {
	switch p {
	case Monthly:
		return 1
	case Bimonthly:
		return 2
	case Quarterly:
		return 3
	case Annual:
		return 12
	default:
		return 0
	}
}

func (p Periodicity) Valid() bool { return p.Months() > 0 }

// Periodicities lists the supported values in interval order.
func Periodicities() []Periodicity {
	return []Periodicity{Monthly, Bimonthly, Quarterly, Annual}
}

// legacyPeriodicities are the names stored by the previous Spanish-language
// schema; imported rows still carry them.
var legacyPeriodicities = map[string]Periodicity{
	"mensual":    Monthly,
	"bimestral":  Bimonthly,
	"trimestral": Quarterly,
	"anual":      Annual,
}

// ParsePeriodicity normalizes s; the empty string yields "" with no error
// (no plan requested).
func ParsePeriodicity(s string) (Periodicity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	if p, ok := legacyPeriodicities[s]; ok {
		return p, nil
	}
	p := Periodicity(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown periodicity %q", ErrInvalidArgument, s)
	}
	return p, nil
}
