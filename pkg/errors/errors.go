// Package errors defines the coded error type shared by every package in the
// authorization service. Each failure carries a stable, machine-readable code
// of the form CATEGORY_NNN; the category decides the HTTP status, whether the
// caller may retry, and how transport adapters present the failure.
//
// Categories used by the service:
//
//	VAL     request or configuration input is invalid          400
//	AUTH    the bearer token could not be accepted              401
//	AUTHZ   the principal is known but the operation is denied  403
//	PROV    the principal is not provisioned or is deactivated  403
//	NF      a referenced record does not exist                  404
//	CONF    the operation conflicts with stored state           409
//	INT     unexpected internal failure                         500
//	UNAVAIL a dependency could not be reached (retryable)       503
//	TIMEOUT a dependency did not answer in time (retryable)     504
//
// Typical use:
//
//	err := errors.New(errors.CodeTokenExpired, "auth: token has expired")
//	if errors.IsRetryable(err) {
//	    // back off and try again
//	}
//
// The package is conventionally imported as sserr to avoid shadowing the
// standard library errors package.
package errors
