package binding

import "github.com/securactl/securactl/pkg/remote"

// step identifies a protocol sub-step for failure dispatch.
type step int

const (
	stepBind step = iota
	stepSeal
)

// action is the outcome of dispatching a sub-step error.
type action int

const (
	// actionOK means the step succeeded.
	actionOK action = iota

	// actionSkip logs the failure and moves on to the next step. The
	// overall create still succeeds; the skipped work is surfaced in
	// the logs for the operator to reconcile manually.
	actionSkip

	// actionAbort fails the create. Rollback of whatever was already
	// provisioned is left to the caller's rollback stack.
	actionAbort
)

// stepPolicy maps each sub-step's error class to an action. Permission
// failures always abort: retrying or skipping them would hide a
// misconfigured caller identity. Parameter and not-found failures skip
// the single sub-step, since the volume itself exists and the remaining
// steps may still be meaningful.
var stepPolicy = map[step]map[remote.Code]action{
	stepBind: {
		remote.CodePermissionDenied: actionAbort,
		remote.CodeUnauthenticated:  actionAbort,
		remote.CodeNotFound:         actionSkip,
		remote.CodeInvalidParameter: actionSkip,
		remote.CodeBadRequest:       actionSkip,
	},
	stepSeal: {
		remote.CodePermissionDenied: actionAbort,
		remote.CodeUnauthenticated:  actionAbort,
		remote.CodeNotFound:         actionSkip,
		remote.CodeInvalidParameter: actionSkip,
		remote.CodeBadRequest:       actionSkip,
	},
}

// dispatch resolves an error from a protocol sub-step to an action.
// Retryable errors reaching this point have already exhausted their
// retry budget and abort.
func dispatch(s step, err error) action {
	if err == nil {
		return actionOK
	}
	if a, ok := stepPolicy[s][remote.CodeOf(err)]; ok {
		return a
	}
	return actionAbort
}
