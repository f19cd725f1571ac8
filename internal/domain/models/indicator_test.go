package models

import "testing"

func TestFormatChangePercent(t *testing.T) {
	cases := []struct {
		name    string
		current string
		prev    string
		want    string
	}{
		{"positive", "110", "100", "+10.00%"},
		{"negative keeps explicit sign", "95", "100", "-5.00%"},
		{"flat", "100", "100", "+0.00%"},
		{"negative previous uses absolute denominator", "-90", "-100", "+10.00%"},
		{"zero previous has no denominator", "100", "0", ""},
		{"empty previous", "100", "", ""},
		{"sentinel previous", "100", ".", ""},
		{"non-numeric current", "n/a", "100", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatChangePercent(tc.current, tc.prev); got != tc.want {
				t.Fatalf("FormatChangePercent(%q, %q) = %q, want %q", tc.current, tc.prev, got, tc.want)
			}
		})
	}
}

func TestWithChangeFromPrev(t *testing.T) {
	cur := &Indicator{ID: "usd_jpy", Value: "140"}
	prev := &Indicator{ID: "usd_jpy", Value: "150"}

	got := WithChangeFromPrev(cur, prev)
	if got.ChangePercent != "-6.67%" {
		t.Fatalf("ChangePercent = %q", got.ChangePercent)
	}
	if cur.ChangePercent != "" {
		t.Fatal("input indicator must not be mutated")
	}

	supplied := &Indicator{ID: "usd_jpy", Value: "140", ChangePercent: "+1.00%"}
	if got := WithChangeFromPrev(supplied, prev); got.ChangePercent != "+1.00%" {
		t.Fatalf("supplied change overwritten: %q", got.ChangePercent)
	}

	if WithChangeFromPrev(nil, prev) != nil {
		t.Fatal("nil current must stay nil")
	}
}
