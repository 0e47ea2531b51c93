package saxo_openapi

import (
	"context"
	"fmt"
)

// GetInstrumentsParams defines query parameters for searching instruments.
type GetInstrumentsParams struct {
	AccountKey         *string `url:"AccountKey,omitempty"`
	AssetTypes         *string `url:"AssetTypes,omitempty"` // comma separated, e.g. "Stock,FxSpot"
	ExchangeID         *string `url:"ExchangeId,omitempty"`
	Keywords           *string `url:"Keywords,omitempty"`
	IncludeNonTradable *bool   `url:"IncludeNonTradable,omitempty"`
	Top                *int    `url:"$top,omitempty"`
	Skip               *int    `url:"$skip,omitempty"`
}

// GetInstruments searches the instrument universe.
// GET /openapi/ref/v1/instruments
func (c *Client) GetInstruments(ctx context.Context, params *GetInstrumentsParams) (*GetInstrumentsResponse, error) {
	query, err := encodeQuery(params)
	if err != nil {
		return nil, fmt.Errorf("failed to convert params to query values: %w", err)
	}
	var resp GetInstrumentsResponse
	if err := c.getJSON(ctx, "ref/v1/instruments", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
