package gateway

import "fmt"

// Contract identifies a tradable instrument. A zero ConID means the contract
// has not been resolved against the gateway yet.
type Contract struct {
	ConID           int64  `json:"con_id"`
	Symbol          string `json:"symbol"`
	SecType         string `json:"sec_type"`
	Exchange        string `json:"exchange"`
	PrimaryExchange string `json:"primary_exchange,omitempty"`
	Currency        string `json:"currency"`
	LocalSymbol     string `json:"local_symbol,omitempty"`
}

// IsResolved reports whether the gateway has assigned an id to the contract.
func (c Contract) IsResolved() bool {
	return c.ConID != 0
}

func (c Contract) String() string {
	if c.IsResolved() {
		return fmt.Sprintf("%s %s@%s %s (conId %d)", c.Symbol, c.SecType, c.Exchange, c.Currency, c.ConID)
	}
	return fmt.Sprintf("%s %s@%s %s", c.Symbol, c.SecType, c.Exchange, c.Currency)
}

// ContractDetails is the answer to a contract details request.
type ContractDetails struct {
	Contract   Contract
	LongName   string
	TimeZoneID string
	MinTick    float64
}

// Bar is one historical OHLCV bar. Time is unix seconds in UTC.
type Bar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// TagValue carries free-form request options.
type TagValue struct {
	Tag   string
	Value string
}

// Security types accepted by the gateways.
const (
	SecTypeStock  = "STK"
	SecTypeCash   = "CASH"
	SecTypeFuture = "FUT"
	SecTypeIndex  = "IND"
	SecTypeCFD    = "CFD"
	SecTypeFund   = "FUND"
	SecTypeBond   = "BOND"
)

// Historical request defaults.
const (
	WhatToShowTrades = "TRADES"
	FormatDateString = 1
	FormatDateEpoch  = 2
	SmartExchange    = "SMART"
)
