package trader

import (
	"errors"
	"fmt"

	"stock-trader-go/internal/ledger"
	"stock-trader-go/internal/oracle"
)

// Kind tags the semantic outcome of a core operation so the web layer can
// render it without inspecting error internals. The core never decides HTTP
// status codes; it only reports one of these kinds plus a readable reason.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindInsufficientFunds  Kind = "insufficient_funds"
	KindInsufficientShares Kind = "insufficient_shares"
	KindHolderNotFound     Kind = "holder_not_found"
	KindPriceNotFound      Kind = "price_not_found"
	KindRateLimited        Kind = "rate_limited"
	KindPriceUnavailable   Kind = "price_unavailable"
	KindConflict           Kind = "concurrency_conflict"
	KindCorruption         Kind = "ledger_corruption"
	KindStorage            Kind = "storage_error"
)

// Rejection is a tagged operation outcome. It covers both expected business
// rejections (insufficient funds, bad input) and genuine faults; Fault tells
// the two apart, since only the latter are alarm-worthy.
type Rejection struct {
	Kind   Kind
	Reason string
}

func (r *Rejection) Error() string {
	return r.Reason
}

// Fault reports whether this outcome signals a system fault rather than an
// expected rejection.
func (r *Rejection) Fault() bool {
	return r.Kind == KindCorruption || r.Kind == KindStorage
}

func reject(kind Kind, format string, args ...interface{}) *Rejection {
	return &Rejection{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// classify converts oracle and ledger errors into tagged rejections. Oracle
// classifications pass through unchanged in meaning; anything unrecognized
// is a storage fault.
func classify(err error) *Rejection {
	var oerr *oracle.Error
	if errors.As(err, &oerr) {
		switch oerr.Kind {
		case oracle.KindNotFound:
			return reject(KindPriceNotFound, "no price available for %s", oerr.Symbol)
		case oracle.KindRateLimited:
			return reject(KindRateLimited, "price service is rate limited, try again later")
		default:
			return reject(KindPriceUnavailable, "price service is unavailable")
		}
	}

	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return reject(KindHolderNotFound, "unknown holder")
	case errors.Is(err, ledger.ErrConflict):
		return reject(KindConflict, "account was modified concurrently, please retry")
	case errors.Is(err, ledger.ErrCorrupt):
		return reject(KindCorruption, "ledger integrity check failed")
	}
	return reject(KindStorage, "storage failure: %v", err)
}
