// Package localtime converts absolute timestamps into naive wall-clock time
// of a configured zone so they can be compared against a naive cutoff.
package localtime

import (
	"fmt"
	"strings"
	"time"
)

// Converter maps instants onto the wall clock of a single location.
type Converter struct {
	loc *time.Location
}

// New resolves name to a location. An empty name or "Local" selects the
// machine's configured timezone.
func New(name string) (*Converter, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return &Converter{loc: time.Local}, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return &Converter{loc: loc}, nil
}

// System returns a converter for the machine's configured timezone.
func System() *Converter {
	return &Converter{loc: time.Local}
}

// Location reports the zone used by the converter.
func (c *Converter) Location() *time.Location {
	return c.loc
}

// ToLocal returns the same instant expressed in the converter's zone.
func (c *Converter) ToLocal(t time.Time) time.Time {
	return t.In(c.loc)
}

// Naive returns the wall clock of t in the converter's zone with the zone
// stripped. The result carries UTC as a neutral placeholder and must only be
// compared with other naive values.
func (c *Converter) Naive(t time.Time) time.Time {
	l := t.In(c.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), l.Nanosecond(), time.UTC)
}

// FromNaive reattaches the converter's zone to a naive wall-clock value.
func (c *Converter) FromNaive(n time.Time) time.Time {
	return time.Date(n.Year(), n.Month(), n.Day(), n.Hour(), n.Minute(), n.Second(), n.Nanosecond(), c.loc)
}

// NotBefore reports whether t is at or after cutoff once both are reduced to
// naive local time.
func (c *Converter) NotBefore(t, cutoff time.Time) bool {
	return !c.Naive(t).Before(c.Naive(cutoff))
}
