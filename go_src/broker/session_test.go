package broker

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"histdata/go_src/gateway"
)

func TestSession_FetchSingleChunk(t *testing.T) {
	s, fc, rec := newTestSession(t, func(fc *fakeClient) {
		fc.onHistorical = dailyBars(false)
	})

	bars := s.FetchHistoricalData(amd, date(2020, 11, 1), date(2020, 11, 11), "1 day")
	if len(bars) != 10 {
		t.Errorf("Expected 10 bars, got %d", len(bars))
	}
	reqs := fc.historicalRequests()
	if len(reqs) != 1 {
		t.Fatalf("Expected one request, got %d", len(reqs))
	}
	if reqs[0].reqID != 1 || reqs[0].duration != "10 D" || reqs[0].endDateTime != "20201111-00:00:00" {
		t.Errorf("Unexpected request: %+v", reqs[0])
	}
	if !rec.contains("20201111-00:00:00") {
		t.Error("Expected the chunk end date to be notified")
	}
}

func TestSession_Fetch95DaysReproducesEveryDay(t *testing.T) {
	s, fc, _ := newTestSession(t, func(fc *fakeClient) {
		fc.onHistorical = dailyBars(false)
	})

	bars := s.FetchHistoricalData(amd, date(2021, 1, 1), date(2021, 4, 6), "1 day")
	if len(bars) != 95 {
		t.Errorf("Expected 95 daily bars, got %d", len(bars))
	}
	reqs := fc.historicalRequests()
	for i, r := range reqs {
		if r.reqID != int64(i+1) {
			t.Errorf("Request %d has id %d", i, r.reqID)
		}
	}
	if len(reqs) != 4 || reqs[0].duration != "5 D" {
		t.Errorf("Unexpected requests: %+v", reqs)
	}
}

func TestSession_ThreeMonthsStrictlyIncreasing(t *testing.T) {
	s, fc, _ := newTestSession(t, func(fc *fakeClient) {
		// Overlapping windows: every chunk also returns its end-boundary bar.
		fc.onHistorical = dailyBars(true)
	})

	from, to := date(2021, 1, 1), date(2021, 4, 1)
	bars := s.FetchHistoricalData(amd, from, to, "1 day")

	if len(bars) == 0 {
		t.Fatal("Expected bars")
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].Time <= bars[i-1].Time {
			t.Fatalf("Bars out of order at %d: %d after %d", i, bars[i].Time, bars[i-1].Time)
		}
	}
	if bars[0].Time != from.Unix() {
		t.Errorf("First bar at %v, want %v", time.Unix(bars[0].Time, 0).UTC(), from)
	}
	days := int(to.Sub(from).Hours() / 24)
	if len(bars) != days+1 {
		t.Errorf("Expected %d unique bars, got %d", days+1, len(bars))
	}
	if n := len(fc.historicalRequests()); n != 3 {
		t.Errorf("Expected 3 chunk requests, got %d", n)
	}
}

func TestSession_DropsBarsBeforeFrom(t *testing.T) {
	from := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)
	to := from.Add(3 * time.Hour)
	s, fc, _ := newTestSession(t, func(fc *fakeClient) {
		fc.onHistorical = func(w gateway.EWrapper, req histRequest) {
			// The gateway widens the window to the previous session.
			for ts := from.Add(-2 * time.Hour); ts.Before(to); ts = ts.Add(time.Hour) {
				w.HistoricalData(req.reqID, &gateway.Bar{Time: ts.Unix(), Close: 1})
			}
			w.HistoricalDataEnd(req.reqID, "", "")
		}
	})

	bars := s.FetchHistoricalData(amd, from, to, "1 hour")
	if len(bars) != 3 {
		t.Fatalf("Expected 3 bars inside the range, got %d", len(bars))
	}
	if bars[0].Time != from.Unix() {
		t.Errorf("First bar at %v, want %v", time.Unix(bars[0].Time, 0).UTC(), from)
	}
	if reqs := fc.historicalRequests(); len(reqs) != 1 || reqs[0].duration != "10800 S" {
		t.Errorf("Unexpected requests: %+v", reqs)
	}
}

func TestSession_EmptyRangeIssuesNoRequests(t *testing.T) {
	s, fc, rec := newTestSession(t, func(fc *fakeClient) {
		fc.onHistorical = dailyBars(false)
	})

	bars := s.FetchHistoricalData(amd, date(2021, 2, 1), date(2021, 1, 1), "1 day")
	if len(bars) != 0 {
		t.Errorf("Expected no bars, got %d", len(bars))
	}
	if n := len(fc.historicalRequests()); n != 0 {
		t.Errorf("Expected no requests, got %d", n)
	}
	if !rec.contains("Nothing to download") {
		t.Error("Expected an empty range notification")
	}
}

func TestSession_ConnectAndDisconnectTwice(t *testing.T) {
	s, fc, _ := newTestSession(t, nil)

	if err := s.Connect("127.0.0.1", 4002, 1); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !s.IsConnected() {
		t.Error("Expected session to be connected")
	}
	if err := s.Connect("127.0.0.1", 4002, 1); err == nil {
		t.Error("Expected a second Connect to fail")
	}

	s.Disconnect()
	s.Disconnect()

	if s.IsConnected() {
		t.Error("Expected session to be disconnected")
	}
	if fc.disconnects != 1 {
		t.Errorf("Expected one gateway disconnect, got %d", fc.disconnects)
	}
}

func TestSession_DisconnectWithoutConnect(t *testing.T) {
	s, fc, _ := newTestSession(t, nil)
	s.Disconnect()
	s.Disconnect()
	if fc.disconnects != 1 {
		t.Errorf("Expected one gateway disconnect, got %d", fc.disconnects)
	}
}

func TestSession_ConnectFailure(t *testing.T) {
	s, fc, rec := newTestSession(t, func(fc *fakeClient) {
		fc.connectErr = errors.New("connection refused")
	})

	err := s.Connect("127.0.0.1", 4002, 1)
	if err == nil {
		t.Fatal("Expected Connect to fail")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Expected wrapped cause, got %v", err)
	}
	if msgs := rec.messages(); len(msgs) != 1 {
		t.Errorf("Expected one notification, got %v", msgs)
	}
	s.Disconnect()
	if fc.disconnects != 1 {
		t.Errorf("Expected the gateway client to be disconnected after a failed connect, got %d calls", fc.disconnects)
	}
}

func TestSession_SaveAsCSV(t *testing.T) {
	s, _, rec := newTestSession(t, nil)

	bars := []gateway.Bar{
		{Time: time.Date(2020, 11, 11, 14, 30, 0, 0, time.UTC).Unix(), Open: 81.5, High: 82.25, Low: 80.1, Close: 82, Volume: 1200},
		{Time: time.Date(2020, 11, 12, 14, 30, 0, 0, time.UTC).Unix(), Open: 82, High: 83, Low: 81, Close: 82.5, Volume: 900},
	}
	path, err := s.SaveAsCSV(bars, "amd_20201101_20201113_1_day")
	if err != nil {
		t.Fatalf("SaveAsCSV failed: %v", err)
	}
	if filepath.Base(path) != "amd_20201101_20201113_1_day.csv" {
		t.Errorf("Unexpected file name: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read CSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header plus 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "DateTime,Open,High,Low,Close,Volume" {
		t.Errorf("Unexpected header: %s", lines[0])
	}
	if lines[1] != "2020-11-11 09:30:00-05:00,81.5,82.25,80.1,82,1200" {
		t.Errorf("Unexpected first row: %s", lines[1])
	}
	if !rec.contains("Data has been saved as amd_20201101_20201113_1_day.csv") {
		t.Errorf("Expected save notification, got %v", rec.messages())
	}
}
