package download

import (
	"fmt"
	"strings"
	"time"

	"histdata/go_src/gateway"
)

// State is the lifecycle state of a download task.
type State int

const (
	NotStarted State = iota
	Running
	Done
	Error
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Running:
		return "RUNNING"
	case Done:
		return "DONE"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Connection addresses the gateway.
type Connection struct {
	Host     string
	Port     int
	ClientID int64
}

// ContractSpec is the instrument as typed by the user.
type ContractSpec struct {
	Ticker   string
	SecType  string
	Exchange string
	Currency string
}

// HistInfo is the requested range and bar size.
type HistInfo struct {
	FromDate time.Time
	ToDate   time.Time
	BarSize  string
}

// Request is everything needed to run one download.
type Request struct {
	Connection Connection
	Contract   ContractSpec
	Hist       HistInfo
}

// Validate checks the fields a download cannot run without.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Contract.Ticker) == "" {
		return fmt.Errorf("ticker is required")
	}
	if r.Contract.SecType == "" {
		return fmt.Errorf("security type is required")
	}
	if r.Hist.FromDate.IsZero() || r.Hist.ToDate.IsZero() {
		return fmt.Errorf("from and to dates are required")
	}
	if strings.TrimSpace(r.Hist.BarSize) == "" {
		return fmt.Errorf("bar size is required")
	}
	if r.Connection.Host == "" {
		return fmt.Errorf("gateway host is required")
	}
	return nil
}

// Hooks receive the task's output. Every hook is optional.
// Log is called from the poller goroutine; Done and Error are called once,
// after the last log line has been delivered.
type Hooks struct {
	Log   func(line string)
	Done  func(bars []gateway.Bar, fileName string)
	Error func(message string)
}

// Result is the terminal outcome of a task.
type Result struct {
	State    State
	Bars     []gateway.Bar
	FileName string
	Message  string
}

// BuildFileName derives the output name (without extension) of a download,
// e.g. "amd_20201101_20201111_1_day".
func BuildFileName(ticker string, from, to time.Time, barSize string) string {
	return fmt.Sprintf("%s_%s_%s_%s",
		strings.ToLower(strings.TrimSpace(ticker)),
		from.Format("20060102"),
		to.Format("20060102"),
		strings.ReplaceAll(strings.TrimSpace(barSize), " ", "_"))
}
