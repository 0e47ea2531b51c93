package ib_gateway

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/scmhub/ibapi"

	"histdata/go_src/gateway"
)

// IB reports farm status and similar warnings in this code range.
const (
	noticeCodeMin int64 = 2100
	noticeCodeMax int64 = 2199
)

// IsNotice reports whether an IB error code is informational and must not
// fail a pending request.
func IsNotice(code int64) bool {
	return code >= noticeCodeMin && code <= noticeCodeMax
}

// ContractToIB converts a gateway contract to the IB wire type.
func ContractToIB(c gateway.Contract) *ibapi.Contract {
	return &ibapi.Contract{
		ConID:           c.ConID,
		Symbol:          c.Symbol,
		SecType:         c.SecType,
		Exchange:        c.Exchange,
		PrimaryExchange: c.PrimaryExchange,
		Currency:        c.Currency,
		LocalSymbol:     c.LocalSymbol,
	}
}

// ContractDetailsFromIB keeps the fields the downloader uses.
func ContractDetailsFromIB(d *ibapi.ContractDetails) gateway.ContractDetails {
	c := d.Contract
	return gateway.ContractDetails{
		Contract: gateway.Contract{
			ConID:           c.ConID,
			Symbol:          c.Symbol,
			SecType:         c.SecType,
			Exchange:        c.Exchange,
			PrimaryExchange: c.PrimaryExchange,
			Currency:        c.Currency,
			LocalSymbol:     c.LocalSymbol,
		},
		LongName:   d.LongName,
		TimeZoneID: d.TimeZoneID,
		MinTick:    d.MinTick,
	}
}

// BarFromIB converts an IB bar. An unset volume becomes 0.
func BarFromIB(b *ibapi.Bar) (gateway.Bar, error) {
	ts, err := ParseBarTime(b.Date)
	if err != nil {
		return gateway.Bar{}, err
	}
	volume := b.Volume.Float()
	if math.IsNaN(volume) || math.IsInf(volume, 0) {
		volume = 0
	}
	return gateway.Bar{
		Time:   ts,
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: volume,
	}, nil
}

// ParseBarTime returns unix seconds for the date forms IB sends back:
// "yyyymmdd" for daily and larger bars (taken as UTC midnight), epoch
// seconds for intraday bars requested with format date 2, and
// "yyyymmdd hh:mm:ss [zone]" for intraday bars requested with format date 1.
func ParseBarTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty bar date")
	}
	if isDigits(s) {
		if len(s) == 8 {
			t, err := time.ParseInLocation("20060102", s, time.UTC)
			if err != nil {
				return 0, fmt.Errorf("invalid bar date '%s': %w", s, err)
			}
			return t.Unix(), nil
		}
		ts, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid bar epoch '%s': %w", s, err)
		}
		return ts, nil
	}
	t, err := gateway.ParseEndDateTime(s)
	if err != nil {
		return 0, fmt.Errorf("invalid bar date '%s': %w", s, err)
	}
	return t.Unix(), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func tagValuesToIB(options []gateway.TagValue) []ibapi.TagValue {
	if len(options) == 0 {
		return nil
	}
	out := make([]ibapi.TagValue, 0, len(options))
	for _, o := range options {
		out = append(out, ibapi.TagValue{Tag: o.Tag, Value: o.Value})
	}
	return out
}
