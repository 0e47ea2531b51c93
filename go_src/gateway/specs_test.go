package gateway

import (
	"strings"
	"testing"
	"time"
)

func TestFormatAndParseEndDateTime(t *testing.T) {
	ts := time.Date(2020, 11, 11, 0, 0, 0, 0, time.UTC)
	s := FormatEndDateTime(ts)
	if s != "20201111-00:00:00" {
		t.Fatalf("FormatEndDateTime = %q", s)
	}
	back, err := ParseEndDateTime(s)
	if err != nil {
		t.Fatalf("ParseEndDateTime failed: %v", err)
	}
	if !back.Equal(ts) {
		t.Errorf("Round trip mismatch: %v vs %v", back, ts)
	}
}

func TestParseEndDateTime_Variants(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"20201111 09:30:00", time.Date(2020, 11, 11, 9, 30, 0, 0, time.UTC), false},
		{"20201111 09:30:00 America/New_York", time.Date(2020, 11, 11, 14, 30, 0, 0, time.UTC), false},
		{"", time.Time{}, true},
		{"2020-11-11", time.Time{}, true},
		{"20201111 09:30:00 Not/AZone", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := ParseEndDateTime(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseEndDateTime(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseEndDateTime(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseEndDateTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseDurationSpec(t *testing.T) {
	d, err := ParseDurationSpec("10 D")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Count != 10 || d.Unit != 'D' || d.String() != "10 D" {
		t.Errorf("unexpected spec: %+v", d)
	}
	for _, bad := range []string{"", "10", "D 10", "0 D", "-1 D", "3 X", "3 DD"} {
		if _, err := ParseDurationSpec(bad); err == nil {
			t.Errorf("ParseDurationSpec(%q) expected error", bad)
		}
	}
}

func TestDurationSpecBefore(t *testing.T) {
	end := time.Date(2021, 3, 31, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		spec string
		want time.Time
	}{
		{"30 S", end.Add(-30 * time.Second)},
		{"10 D", time.Date(2021, 3, 21, 0, 0, 0, 0, time.UTC)},
		{"2 W", time.Date(2021, 3, 17, 0, 0, 0, 0, time.UTC)},
		{"1 M", time.Date(2021, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"1 Y", time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		d, err := ParseDurationSpec(tt.spec)
		if err != nil {
			t.Fatalf("ParseDurationSpec(%q): %v", tt.spec, err)
		}
		if got := d.Before(end); !got.Equal(tt.want) {
			t.Errorf("%s before %v = %v, want %v", tt.spec, end, got, tt.want)
		}
	}
}

func TestAddMonthsClamped(t *testing.T) {
	tests := []struct {
		in     time.Time
		months int
		want   time.Time
	}{
		{time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC), -1, time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC)},
		{time.Date(2021, 3, 31, 0, 0, 0, 0, time.UTC), -1, time.Date(2021, 2, 28, 0, 0, 0, 0, time.UTC)},
		{time.Date(2021, 1, 15, 0, 0, 0, 0, time.UTC), -1, time.Date(2020, 12, 15, 0, 0, 0, 0, time.UTC)},
		{time.Date(2021, 1, 31, 12, 0, 0, 0, time.UTC), 1, time.Date(2021, 2, 28, 12, 0, 0, 0, time.UTC)},
		{time.Date(2021, 5, 31, 0, 0, 0, 0, time.UTC), -3, time.Date(2021, 2, 28, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := AddMonthsClamped(tt.in, tt.months); !got.Equal(tt.want) {
			t.Errorf("AddMonthsClamped(%v, %d) = %v, want %v", tt.in, tt.months, got, tt.want)
		}
	}
}

func TestBarSizeMinutes(t *testing.T) {
	tests := map[string]int{
		"1 min":   1,
		"5 mins":  5,
		"1 hour":  60,
		"4 hours": 240,
		"1 day":   1440,
		"1 week":  10080,
		"1 month": 43200,
	}
	for in, want := range tests {
		got, err := BarSizeMinutes(in)
		if err != nil {
			t.Errorf("BarSizeMinutes(%q) unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("BarSizeMinutes(%q) = %d, want %d", in, got, want)
		}
	}
	for _, bad := range []string{"", "1", "5 secs", "x mins", "0 min"} {
		if _, err := BarSizeMinutes(bad); err == nil {
			t.Errorf("BarSizeMinutes(%q) expected error", bad)
		}
	}
}

func TestGatewayErrorAndContract(t *testing.T) {
	err := &GatewayError{ReqID: 43, Code: 200, Message: "No security definition has been found for the request"}
	if !strings.HasPrefix(err.Error(), "gateway error id 43 error code 200 string No security") {
		t.Errorf("Unexpected error text: %s", err.Error())
	}

	c := Contract{Symbol: "AMD", SecType: SecTypeStock, Exchange: SmartExchange, Currency: "USD"}
	if c.IsResolved() {
		t.Error("Contract without ConID should not be resolved")
	}
	if c.String() != "AMD STK@SMART USD" {
		t.Errorf("Unexpected contract string: %s", c.String())
	}
	c.ConID = 4391
	if !c.IsResolved() || !strings.Contains(c.String(), "conId 4391") {
		t.Errorf("Unexpected resolved contract string: %s", c.String())
	}
}
