package region

import "testing"

func TestResolveKnownZones(t *testing.T) {
	cases := []struct {
		tz   string
		want ID
	}{
		{"America/New_York", USEast1},
		{"America/Argentina/Buenos_Aires", USEast1},
		{"US/Pacific", USEast1},
		{"Europe/London", EUWest1},
		{"Europe/Berlin", EUWest1},
		{"Africa/Lagos", EUWest1},
		{"Asia/Tokyo", APSoutheast1},
		{"Australia/Sydney", APSoutheast1},
		{"Pacific/Auckland", APSoutheast1},
	}
	for _, c := range cases {
		if got := Resolve(c.tz); got != c.want {
			t.Fatalf("Resolve(%q) = %q, want %q", c.tz, got, c.want)
		}
	}
}

func TestResolveUnknownFallsBackToDefault(t *testing.T) {
	for _, tz := range []string{"", "Mars/Olympus_Mons", "UTC", "not a timezone"} {
		if got := Resolve(tz); got != DefaultID {
			t.Fatalf("Resolve(%q) = %q, want default %q", tz, got, DefaultID)
		}
	}
}

func TestMapGetUnknownIDFallsBack(t *testing.T) {
	m := NewMap(DefaultEndpoints())
	r := m.Get(ID("sa-east-1"))
	if r.ID != DefaultID {
		t.Fatalf("Get(unknown).ID = %q, want %q", r.ID, DefaultID)
	}
	if r.APIBaseURL == "" || r.WSBaseURL == "" {
		t.Fatalf("fallback region missing endpoints: %+v", r)
	}
}

func TestMapPinned(t *testing.T) {
	m := NewMap(DefaultEndpoints())
	if got := m.Pinned().ID; got != PinnedID {
		t.Fatalf("Pinned().ID = %q, want %q", got, PinnedID)
	}
}
