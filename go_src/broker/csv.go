package broker

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"histdata/go_src/gateway"
)

// CSVTimeLayout is the DateTime column format.
const CSVTimeLayout = "2006-01-02 15:04:05-07:00"

var csvHeader = []string{"DateTime", "Open", "High", "Low", "Close", "Volume"}

// SaveAsCSV writes bars to {OutputDir}/{name}.csv and returns the file path.
func (s *Session) SaveAsCSV(bars []gateway.Bar, name string) (string, error) {
	path, err := WriteCSV(s.cfg.OutputDir, name, bars, s.cfg.DisplayLocation)
	if err != nil {
		return "", err
	}
	s.notifier.Notifyf("Data has been saved as %s", filepath.Base(path))
	return path, nil
}

// WriteCSV writes bars with their timestamps rendered in loc.
func WriteCSV(dir, name string, bars []gateway.Bar, loc *time.Location) (string, error) {
	if loc == nil {
		loc = time.UTC
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, name+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, b := range bars {
		row := []string{
			time.Unix(b.Time, 0).In(loc).Format(CSVTimeLayout),
			formatFloat(b.Open),
			formatFloat(b.High),
			formatFloat(b.Low),
			formatFloat(b.Close),
			formatFloat(b.Volume),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return path, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
