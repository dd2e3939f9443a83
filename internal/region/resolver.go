// Package region resolves the backend region from the device timezone and
// maps region IDs to their API endpoints.
package region

import "strings"

// ID names one deployment region.
type ID string

const (
	USEast1      ID = "us-east-1"
	EUWest1      ID = "eu-west-1"
	APSoutheast1 ID = "ap-southeast-1"

	// DefaultID handles unknown timezones and unknown region IDs.
	DefaultID = USEast1
	// PinnedID hosts the speech-assessment stack; speech traffic never
	// follows the home region.
	PinnedID = USEast1
)

// Region holds the endpoints for one deployment region.
type Region struct {
	ID         ID
	APIBaseURL string
	WSBaseURL  string
}

// Map is an immutable region lookup table.
type Map struct {
	regions map[ID]Region
}

// NewMap builds a lookup table. The ID field of each entry is filled in from
// its key.
func NewMap(endpoints map[ID]Region) *Map {
	regions := make(map[ID]Region, len(endpoints))
	for id, r := range endpoints {
		r.ID = id
		regions[id] = r
	}
	return &Map{regions: regions}
}

// DefaultEndpoints returns the production endpoint set.
func DefaultEndpoints() map[ID]Region {
	return map[ID]Region{
		USEast1: {
			APIBaseURL: "https://api.ieltsgenaiprep.com",
			WSBaseURL:  "wss://api.ieltsgenaiprep.com",
		},
		EUWest1: {
			APIBaseURL: "https://eu.api.ieltsgenaiprep.com",
			WSBaseURL:  "wss://eu.api.ieltsgenaiprep.com",
		},
		APSoutheast1: {
			APIBaseURL: "https://ap.api.ieltsgenaiprep.com",
			WSBaseURL:  "wss://ap.api.ieltsgenaiprep.com",
		},
	}
}

// Get returns the region for id, falling back to the default region for IDs
// outside the table.
func (m *Map) Get(id ID) Region {
	if r, ok := m.regions[id]; ok {
		return r
	}
	return m.regions[DefaultID]
}

// Pinned returns the region hosting the speech-assessment stack.
func (m *Map) Pinned() Region {
	return m.regions[PinnedID]
}

// Zone fragments checked in order; the first hit wins. Unknown timezones fall
// back to the default region rather than failing.
var (
	americasZones = []string{"America/", "US/", "Canada/", "Mexico/", "Brazil/", "Chile/", "Cuba", "Jamaica"}
	europeZones   = []string{"Europe/", "Africa/", "Atlantic/", "GB", "Eire", "Portugal", "Poland"}
	asiaZones     = []string{"Asia/", "Australia/", "Pacific/", "Indian/", "NZ", "Japan", "Singapore", "Hongkong"}
)

// Resolve maps a device timezone to its home region.
func Resolve(timezone string) ID {
	tz := strings.TrimSpace(timezone)
	if tz == "" {
		return DefaultID
	}
	for _, z := range americasZones {
		if strings.Contains(tz, z) {
			return USEast1
		}
	}
	for _, z := range europeZones {
		if strings.Contains(tz, z) {
			return EUWest1
		}
	}
	for _, z := range asiaZones {
		if strings.Contains(tz, z) {
			return APSoutheast1
		}
	}
	return DefaultID
}
