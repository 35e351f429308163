package binance

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Classification buckets every venue failure. Priority order is benign >
// temporary > fatal: a cancel of an already-gone order is success no matter
// what status it arrived with.
type Classification int

const (
	ClassFatal Classification = iota
	ClassTemporary
	ClassBenign
)

func (c Classification) String() string {
	switch c {
	case ClassBenign:
		return "BENIGN"
	case ClassTemporary:
		return "TEMPORARY"
	default:
		return "FATAL"
	}
}

// Venue error codes the classifier keys on.
const (
	codeUnknownOrder      = -2011 // cancel target already gone
	codeNoSuchOrder       = -2013 // order does not exist
	codeTooManyRequests   = -1003
	codeTimeout           = -1007
	codeDisconnected      = -1001
	codeServerBusy        = -1008
	codeRecvWindowExpired = -1021
)

// ClassifyAPIError maps a venue error to a classification. cancelOp marks the
// request as a delete/cancel, which is the only context where "order is gone"
// means the goal was already achieved. Deterministic per (code, status) pair.
func ClassifyAPIError(apiErr *APIError, cancelOp bool) Classification {
	if apiErr == nil {
		return ClassFatal
	}
	if cancelOp {
		switch apiErr.Code {
		case codeUnknownOrder, codeNoSuchOrder:
			return ClassBenign
		}
	}
	switch apiErr.Code {
	case codeTooManyRequests, codeTimeout, codeDisconnected, codeServerBusy, codeRecvWindowExpired:
		return ClassTemporary
	}
	switch {
	case apiErr.HTTPStatus == http.StatusTooManyRequests,
		apiErr.HTTPStatus == 418, // venue IP ban escalation
		apiErr.HTTPStatus >= 500:
		return ClassTemporary
	}
	return ClassFatal
}

// ClassifyTransportError handles failures that never produced a venue payload.
// Everything retriable at the network layer is temporary except caller
// cancellation, which must abort immediately.
func ClassifyTransportError(err error) Classification {
	if err == nil {
		return ClassFatal
	}
	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTemporary
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTemporary
	}
	// Connection refused/reset and friends come through as *url.Error
	// wrapping syscall errors; treat the lot as temporary.
	return ClassTemporary
}
