package relay

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ============================================================================
// Preparation Hook Context Types
// ============================================================================

// PrepareContext contains information passed to preparation hooks
type PrepareContext struct {
	Ctx       context.Context
	Sender    common.Address
	To        common.Address
	Value     *big.Int
	Data      []byte
	Forwarder common.Address
	ChainID   *big.Int
	Timestamp time.Time
}

// PrepareResultContext contains a prepared request and its context
type PrepareResultContext struct {
	PrepareContext
	Result   *SignedRequest
	Duration time.Duration
}

// PrepareFailureContext contains a preparation failure and its context
type PrepareFailureContext struct {
	PrepareContext
	Error    error
	Duration time.Duration
}

// ============================================================================
// Preparation Hook Result Types
// ============================================================================

// BeforeHookResult represents the result of a "before" hook
// If Abort is true, preparation stops with ErrPreparationAborted and the given Reason
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Preparation Hook Function Types
// ============================================================================

// BeforePrepareHook is called before any network access for a request
type BeforePrepareHook func(PrepareContext) (*BeforeHookResult, error)

// AfterPrepareHook is called after a request has been signed
type AfterPrepareHook func(PrepareResultContext) error

// OnPrepareFailureHook is called when any preparation step fails
type OnPrepareFailureHook func(PrepareFailureContext)

// PrepareHooks groups the preparation lifecycle hooks.
type PrepareHooks struct {
	before  []BeforePrepareHook
	after   []AfterPrepareHook
	failure []OnPrepareFailureHook
}

// OnBeforePrepare registers a hook run before preparation starts.
func (h *PrepareHooks) OnBeforePrepare(hook BeforePrepareHook) *PrepareHooks {
	h.before = append(h.before, hook)
	return h
}

// OnAfterPrepare registers a hook run after a request has been signed.
// Errors returned by after hooks are reported but do not discard the request.
func (h *PrepareHooks) OnAfterPrepare(hook AfterPrepareHook) *PrepareHooks {
	h.after = append(h.after, hook)
	return h
}

// OnPrepareFailure registers a hook run when preparation fails.
func (h *PrepareHooks) OnPrepareFailure(hook OnPrepareFailureHook) *PrepareHooks {
	h.failure = append(h.failure, hook)
	return h
}

// RunBefore runs before hooks in registration order and stops at the first
// abort or error.
func (h *PrepareHooks) RunBefore(pc PrepareContext) error {
	if h == nil {
		return nil
	}
	for _, hook := range h.before {
		result, err := hook(pc)
		if err != nil {
			return NewRelayError(ErrCodePreparationAborted, "before hook failed", err)
		}
		if result != nil && result.Abort {
			return NewRelayError(ErrCodePreparationAborted, result.Reason, nil)
		}
	}
	return nil
}

// RunAfter runs after hooks and returns the errors they reported.
func (h *PrepareHooks) RunAfter(rc PrepareResultContext) []error {
	if h == nil {
		return nil
	}
	var errs []error
	for _, hook := range h.after {
		if err := hook(rc); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// RunFailure runs failure hooks.
func (h *PrepareHooks) RunFailure(fc PrepareFailureContext) {
	if h == nil {
		return
	}
	for _, hook := range h.failure {
		hook(fc)
	}
}
