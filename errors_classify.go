package krace

import (
	"errors"

	"github.com/sslab-gatech/krace/internal/edges"
	"github.com/sslab-gatech/krace/internal/execmodel"
	"github.com/sslab-gatech/krace/internal/ledger"
	"github.com/sslab-gatech/krace/internal/memtrack"
	"github.com/sslab-gatech/krace/internal/raceengine"
)

// classify maps a typed or sentinel error raised by an internal component
// to the high-level ErrCode category it belongs to.
func classify(err error) ErrCode {
	switch {
	case errors.Is(err, ledger.ErrIntegrityOverflow):
		return ErrCodeIntegrityOverflow
	case errors.Is(err, ledger.ErrTruncated):
		return ErrCodeTruncated
	}

	var protoErr *execmodel.ProtocolError
	if errors.As(err, &protoErr) {
		return ErrCodeProtocolViolation
	}

	var dupErr *edges.DuplicateEdgeError
	if errors.As(err, &dupErr) {
		return ErrCodeProtocolViolation
	}
	var loopErr *edges.SelfLoopError
	if errors.As(err, &loopErr) {
		return ErrCodeProtocolViolation
	}

	var doubleMapErr *memtrack.DoubleMapError
	if errors.As(err, &doubleMapErr) {
		return ErrCodeProtocolViolation
	}

	var hbLoopErr *raceengine.LoopError
	if errors.As(err, &hbLoopErr) {
		return ErrCodeHBCycle
	}

	var unknownCodeErr *ledger.UnknownCodeError
	if errors.As(err, &unknownCodeErr) {
		return ErrCodeLookupFailure
	}

	return ErrCodeLookupFailure
}
