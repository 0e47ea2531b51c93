package saxo_openapi

import "time"

// Chart request modes.
const (
	ChartModeFrom = "From"
	ChartModeUpTo = "UpTo"

	// MaxChartCount is the largest number of samples one chart request returns.
	MaxChartCount = 1200
)

// ChartData is the response of chart/v1/charts.
type ChartData struct {
	ChartInfo   *ChartInfo    `json:"ChartInfo,omitempty"`
	Data        []ChartSample `json:"Data"`
	DataVersion int64         `json:"DataVersion,omitempty"`
}

// ChartInfo describes the returned series.
type ChartInfo struct {
	DelayedByMinutes int    `json:"DelayedByMinutes,omitempty"`
	ExchangeID       string `json:"ExchangeId,omitempty"`
	FirstSampleTime  string `json:"FirstSampleTime,omitempty"`
	Horizon          int    `json:"Horizon,omitempty"`
}

// ChartSample is one OHLC sample. Traded instruments fill Open..Volume;
// quoted instruments such as FX fill the bid/ask fields instead.
type ChartSample struct {
	Time     time.Time `json:"Time"`
	Open     float64   `json:"Open,omitempty"`
	High     float64   `json:"High,omitempty"`
	Low      float64   `json:"Low,omitempty"`
	Close    float64   `json:"Close,omitempty"`
	Volume   float64   `json:"Volume,omitempty"`
	OpenBid  float64   `json:"OpenBid,omitempty"`
	OpenAsk  float64   `json:"OpenAsk,omitempty"`
	HighBid  float64   `json:"HighBid,omitempty"`
	HighAsk  float64   `json:"HighAsk,omitempty"`
	LowBid   float64   `json:"LowBid,omitempty"`
	LowAsk   float64   `json:"LowAsk,omitempty"`
	CloseBid float64   `json:"CloseBid,omitempty"`
	CloseAsk float64   `json:"CloseAsk,omitempty"`
}

// IsQuoted reports whether the sample carries bid/ask prices only.
func (s ChartSample) IsQuoted() bool {
	return s.Open == 0 && s.Close == 0 && (s.OpenBid != 0 || s.CloseBid != 0)
}
