package saxo_openapi

// InstrumentSummary is one instrument search hit.
type InstrumentSummary struct {
	AssetType      string   `json:"AssetType"` // e.g. "Stock", "FxSpot", "CfdOnStock"
	CurrencyCode   string   `json:"CurrencyCode"`
	Description    string   `json:"Description"`
	ExchangeID     string   `json:"ExchangeId"`
	GroupID        int      `json:"GroupId"`
	Identifier     int64    `json:"Identifier"` // the Uic
	IssuerCountry  string   `json:"IssuerCountry"`
	PrimaryListing int64    `json:"PrimaryListing"`
	SummaryType    string   `json:"SummaryType"`
	Symbol         string   `json:"Symbol"` // e.g. "AMD:xnas"
	TradableAs     []string `json:"TradableAs"`
}

// GetInstrumentsResponse is a page of instrument search results.
type GetInstrumentsResponse struct {
	Data  []InstrumentSummary `json:"Data"`
	Next  *string             `json:"__next"`
	Count *int                `json:"__count"`
}
