// Package gateway declares the callback contract between the downloader and a
// brokerage gateway client. Requests go out through EClient; answers come back
// asynchronously on the client's event loop through EWrapper.
package gateway

// EWrapper receives callbacks from the gateway event loop.
// Implementations must not block: the event loop is shared by every request.
type EWrapper interface {
	Error(reqID int64, errCode int64, errString string)
	ContractDetails(reqID int64, details *ContractDetails)
	ContractDetailsEnd(reqID int64)
	HistoricalData(reqID int64, bar *Bar)
	HistoricalDataEnd(reqID int64, startDateStr string, endDateStr string)
}

// EClient issues requests to the gateway. Request methods return immediately;
// results are delivered to the EWrapper the client was built with.
type EClient interface {
	Connect(host string, port int, clientID int64) error
	// Run drives the event loop and blocks until Disconnect.
	Run() error
	IsConnected() bool
	ReqContractDetails(reqID int64, contract *Contract)
	ReqHistoricalData(reqID int64, contract *Contract, endDateTime string, duration string, barSize string, whatToShow string, useRTH bool, formatDate int, keepUpToDate bool, chartOptions []TagValue)
	CancelHistoricalData(reqID int64)
	Disconnect() error
}
