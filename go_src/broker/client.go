package broker

import (
	"time"

	"github.com/sirupsen/logrus"

	"histdata/go_src/completion"
	"histdata/go_src/gateway"
)

// Timeouts bounds every blocking wait of the client facade.
type Timeouts struct {
	ContractDetails time.Duration
	HistoricalData  time.Duration
	ErrorPoll       time.Duration
}

// DefaultTimeouts returns the bounds used when nothing is configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		ContractDetails: 10 * time.Second,
		HistoricalData:  30 * time.Second,
		ErrorPoll:       5 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.ContractDetails <= 0 {
		t.ContractDetails = d.ContractDetails
	}
	if t.HistoricalData <= 0 {
		t.HistoricalData = d.HistoricalData
	}
	if t.ErrorPoll <= 0 {
		t.ErrorPoll = d.ErrorPoll
	}
	return t
}

// HistoricalOptions are the request settings shared by every chunk fetch.
type HistoricalOptions struct {
	WhatToShow string
	UseRTH     bool
}

// DefaultHistoricalOptions requests traded bars inside regular trading hours.
func DefaultHistoricalOptions() HistoricalOptions {
	return HistoricalOptions{WhatToShow: gateway.WhatToShowTrades, UseRTH: true}
}

// SyncClient turns the asynchronous gateway requests into bounded blocking calls.
// Failures never unwind the caller: they become notifications and the call
// returns whatever it has, which may be empty or unresolved.
type SyncClient struct {
	client   gateway.EClient
	wrapper  *Wrapper
	notifier *Notifier
	timeouts Timeouts
	options  HistoricalOptions
}

// NewSyncClient wires a facade over client, whose callbacks must arrive on wrapper.
func NewSyncClient(client gateway.EClient, wrapper *Wrapper, notifier *Notifier, timeouts Timeouts, options HistoricalOptions) *SyncClient {
	if notifier == nil {
		notifier = NewNotifier()
	}
	if options.WhatToShow == "" {
		options.WhatToShow = gateway.WhatToShowTrades
	}
	return &SyncClient{
		client:   client,
		wrapper:  wrapper,
		notifier: notifier,
		timeouts: timeouts.withDefaults(),
		options:  options,
	}
}

// ResolveContract asks the gateway for the canonical form of contract.
// When nothing usable arrives in time the input descriptor is returned unchanged.
func (c *SyncClient) ResolveContract(contract gateway.Contract, reqID int64) gateway.Contract {
	queue := c.wrapper.InitContractDetails(reqID)

	c.notifier.Notify("Getting full contract details from the server...")
	request := contract
	c.client.ReqContractDetails(reqID, &request)

	details, status := queue.Drain(c.timeouts.ContractDetails)
	c.wrapper.forgetContractDetails(reqID, queue)

	// Errors are relayed but do not change the outcome.
	c.relayErrors()

	if status == completion.TimedOut {
		c.notifier.Notify("Exceeded maximum wait for wrapper to confirm finished")
	}
	if len(details) == 0 {
		c.notifier.Notify("Failed to get additional contract details: returning unresolved contract")
		return contract
	}
	if len(details) > 1 {
		c.notifier.Notifyf("Got multiple contracts (%d), using the first one", len(details))
	}
	resolved := details[0].Contract
	logrus.Debugf("Resolved %s as %s", contract, resolved)
	return resolved
}

// FetchHistoricalData requests one window of bars ending at endDateTime.
// A pending error or a timeout cancels the request on the gateway exactly once;
// the bars received up to that point are still returned.
func (c *SyncClient) FetchHistoricalData(contract gateway.Contract, endDateTime, duration, barSize string, reqID int64) []gateway.Bar {
	queue := c.wrapper.InitHistoricalData(reqID)

	request := contract
	c.client.ReqHistoricalData(reqID, &request, endDateTime, duration, barSize,
		c.options.WhatToShow, c.options.UseRTH, gateway.FormatDateEpoch, false, nil)

	c.notifier.Notifyf("Getting historical data from the server... could take %s to complete",
		c.timeouts.HistoricalData)

	bars, status := queue.Drain(c.timeouts.HistoricalData)
	c.wrapper.forgetHistoricalData(reqID, queue)

	cancel := c.relayErrors()
	if status == completion.TimedOut {
		c.notifier.Notify("Exceeded maximum wait for wrapper to confirm finished")
		cancel = true
	}
	if cancel {
		logrus.Warnf("Cancelling historical request %d (%s ending %s), keeping %d bars", reqID, duration, endDateTime, len(bars))
		c.client.CancelHistoricalData(reqID)
	}
	return bars
}

// relayErrors notifies every pending gateway error and reports whether there was any.
func (c *SyncClient) relayErrors() bool {
	relayed := false
	for c.wrapper.HasError() {
		msg, ok := c.wrapper.NextError(c.timeouts.ErrorPoll)
		if !ok {
			break
		}
		c.notifier.Notify(msg)
		relayed = true
	}
	return relayed
}
