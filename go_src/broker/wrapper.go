package broker

import (
	"fmt"
	"sync"
	"time"

	"histdata/go_src/completion"
	"histdata/go_src/gateway"
)

// Wrapper is the gateway callback target. It routes every callback into the
// completion queue of its request id, and every error into one shared error queue.
// Callbacks only append; they never wait on a consumer.
type Wrapper struct {
	mu        sync.Mutex
	contracts map[int64]*completion.Queue[gateway.ContractDetails]
	bars      map[int64]*completion.Queue[gateway.Bar]

	errMu   sync.Mutex
	errs    []string
	errWake chan struct{}
}

var _ gateway.EWrapper = (*Wrapper)(nil)

// NewWrapper returns a wrapper with no pending requests or errors.
func NewWrapper() *Wrapper {
	return &Wrapper{
		contracts: make(map[int64]*completion.Queue[gateway.ContractDetails]),
		bars:      make(map[int64]*completion.Queue[gateway.Bar]),
		errWake:   make(chan struct{}, 1),
	}
}

// --- errors ---

// ResetErrors discards every pending error.
func (w *Wrapper) ResetErrors() {
	w.errMu.Lock()
	w.errs = nil
	w.errMu.Unlock()
}

// HasError reports whether an error is waiting to be read.
func (w *Wrapper) HasError() bool {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return len(w.errs) > 0
}

// NextError pops the oldest pending error, waiting up to timeout for one to arrive.
func (w *Wrapper) NextError(timeout time.Duration) (string, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		w.errMu.Lock()
		if len(w.errs) > 0 {
			msg := w.errs[0]
			w.errs = w.errs[1:]
			w.errMu.Unlock()
			return msg, true
		}
		w.errMu.Unlock()

		select {
		case <-w.errWake:
		case <-deadline.C:
			return "", false
		}
	}
}

func (w *Wrapper) Error(reqID int64, errCode int64, errString string) {
	msg := (&gateway.GatewayError{ReqID: reqID, Code: errCode, Message: errString}).Error()
	w.errMu.Lock()
	w.errs = append(w.errs, msg)
	w.errMu.Unlock()
	select {
	case w.errWake <- struct{}{}:
	default:
	}
}

// --- contract details ---

// InitContractDetails installs a fresh queue for reqID and returns it.
func (w *Wrapper) InitContractDetails(reqID int64) *completion.Queue[gateway.ContractDetails] {
	w.mu.Lock()
	defer w.mu.Unlock()
	q := completion.New[gateway.ContractDetails]()
	w.contracts[reqID] = q
	return q
}

func (w *Wrapper) contractQueue(reqID int64) *completion.Queue[gateway.ContractDetails] {
	w.mu.Lock()
	defer w.mu.Unlock()
	q, ok := w.contracts[reqID]
	if !ok {
		q = completion.New[gateway.ContractDetails]()
		w.contracts[reqID] = q
	}
	return q
}

func (w *Wrapper) ContractDetails(reqID int64, details *gateway.ContractDetails) {
	if details == nil {
		return
	}
	w.contractQueue(reqID).Push(*details)
}

func (w *Wrapper) ContractDetailsEnd(reqID int64) {
	w.contractQueue(reqID).Finish()
}

// --- historical data ---

// InitHistoricalData installs a fresh queue for reqID and returns it.
func (w *Wrapper) InitHistoricalData(reqID int64) *completion.Queue[gateway.Bar] {
	w.mu.Lock()
	defer w.mu.Unlock()
	q := completion.New[gateway.Bar]()
	w.bars[reqID] = q
	return q
}

func (w *Wrapper) barQueue(reqID int64) *completion.Queue[gateway.Bar] {
	w.mu.Lock()
	defer w.mu.Unlock()
	q, ok := w.bars[reqID]
	if !ok {
		q = completion.New[gateway.Bar]()
		w.bars[reqID] = q
	}
	return q
}

func (w *Wrapper) HistoricalData(reqID int64, bar *gateway.Bar) {
	if bar == nil {
		return
	}
	w.barQueue(reqID).Push(*bar)
}

func (w *Wrapper) HistoricalDataEnd(reqID int64, startDateStr string, endDateStr string) {
	w.barQueue(reqID).Finish()
}

// forgetContractDetails drops the drained queue q of reqID. A queue installed
// again for the same id in the meantime is kept.
func (w *Wrapper) forgetContractDetails(reqID int64, q *completion.Queue[gateway.ContractDetails]) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.contracts[reqID] == q {
		delete(w.contracts, reqID)
	}
}

// forgetHistoricalData drops the drained queue q of reqID.
func (w *Wrapper) forgetHistoricalData(reqID int64, q *completion.Queue[gateway.Bar]) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.bars[reqID] == q {
		delete(w.bars, reqID)
	}
}

func (w *Wrapper) queueCounts() (contracts, bars int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.contracts), len(w.bars)
}

// String is used in debug logs.
func (w *Wrapper) String() string {
	contracts, bars := w.queueCounts()
	return fmt.Sprintf("Wrapper{contracts: %d, bars: %d}", contracts, bars)
}
