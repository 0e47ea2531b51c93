package saxo_openapi

import (
	"context"
	"fmt"
	"time"
)

// GetChartDataParams defines query parameters for fetching chart data.
type GetChartDataParams struct {
	AssetType   string     `url:"AssetType"`
	Uic         int64      `url:"Uic"`
	Horizon     int        `url:"Horizon"` // sample size in minutes
	Mode        string     `url:"Mode,omitempty"`
	Time        *time.Time `url:"Time,omitempty"`
	Count       int        `url:"Count,omitempty"`
	FieldGroups string     `url:"FieldGroups,omitempty"`
}

// GetChartData retrieves OHLC samples for an instrument.
// GET /openapi/chart/v1/charts
func (c *Client) GetChartData(ctx context.Context, params *GetChartDataParams) (*ChartData, error) {
	if params == nil {
		return nil, fmt.Errorf("params cannot be nil for GetChartData")
	}
	if params.Uic == 0 || params.AssetType == "" || params.Horizon == 0 {
		return nil, fmt.Errorf("Uic, AssetType and Horizon are required parameters")
	}
	if params.Mode != "" && params.Time == nil {
		return nil, fmt.Errorf("Time parameter is required when Mode is '%s'", params.Mode)
	}
	if params.Count > MaxChartCount {
		return nil, fmt.Errorf("Count %d exceeds the maximum of %d", params.Count, MaxChartCount)
	}

	query, err := encodeQuery(params)
	if err != nil {
		return nil, fmt.Errorf("failed to convert params to query values: %w", err)
	}
	var data ChartData
	if err := c.getJSON(ctx, "chart/v1/charts", query, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetChartRange pages forward through chart data and returns every sample
// in [start, end), oldest first.
func (c *Client) GetChartRange(ctx context.Context, assetType string, uic int64, horizon int, start, end time.Time) ([]ChartSample, error) {
	var samples []ChartSample
	err := c.EachChartPage(ctx, assetType, uic, horizon, start, end, func(page []ChartSample) {
		samples = append(samples, page...)
	})
	return samples, err
}

// EachChartPage pages forward through chart data in [start, end) and hands
// every page to fn as soon as it arrives. Samples are strictly increasing
// across pages; a page with nothing new is not passed on.
func (c *Client) EachChartPage(ctx context.Context, assetType string, uic int64, horizon int, start, end time.Time, fn func(page []ChartSample)) error {
	var last time.Time
	cursor := start
	for cursor.Before(end) {
		from := cursor
		page, err := c.GetChartData(ctx, &GetChartDataParams{
			AssetType: assetType,
			Uic:       uic,
			Horizon:   horizon,
			Mode:      ChartModeFrom,
			Time:      &from,
			Count:     MaxChartCount,
		})
		if err != nil {
			return err
		}

		var fresh []ChartSample
		for _, s := range page.Data {
			if s.Time.Before(cursor) || !s.Time.Before(end) {
				continue
			}
			if !last.IsZero() && !s.Time.After(last) {
				continue
			}
			fresh = append(fresh, s)
			last = s.Time
		}
		if len(fresh) == 0 {
			break
		}
		fn(fresh)
		if len(page.Data) < MaxChartCount {
			break
		}
		cursor = last.Add(time.Second)
	}
	return nil
}
