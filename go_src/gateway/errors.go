package gateway

import (
	"errors"
	"fmt"
)

// Error codes raised through EWrapper.Error by the gateway adapters.
const (
	NoValidID                  int64 = -1
	ErrCodeNoSecurityDef       int64 = 200
	ErrCodeHistoricalService   int64 = 162
	ErrCodeHistoricalCancelled int64 = 366
	ErrCodeNotConnected        int64 = 504
	ErrCodeBadRequest          int64 = 321
)

// ErrNotConnected is returned by operations that need a live gateway connection.
var ErrNotConnected = errors.New("gateway: not connected")

// GatewayError is an error reported by the gateway for a request id.
type GatewayError struct {
	ReqID   int64
	Code    int64
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error id %d error code %d string %s", e.ReqID, e.Code, e.Message)
}
