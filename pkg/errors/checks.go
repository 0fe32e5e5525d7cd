package errors

import "errors"

// AsError returns the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the first *Error in err's chain, or "".
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether the first *Error in err's chain carries code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

func inCategory(err error, categories ...string) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	cat := e.Code.Category()
	for _, c := range categories {
		if c == cat {
			return true
		}
	}
	return false
}

// IsValidation reports a VAL error.
func IsValidation(err error) bool { return inCategory(err, "VAL") }

// IsAuthentication reports an AUTH error: the token was not accepted or no
// identity was presented.
func IsAuthentication(err error) bool { return inCategory(err, "AUTH") }

// IsAuthorization reports an AUTHZ denial.
func IsAuthorization(err error) bool { return inCategory(err, "AUTHZ") }

// IsProvisioning reports a PROV error: the token was valid but the principal
// is unknown to the directory or deactivated.
func IsProvisioning(err error) bool { return inCategory(err, "PROV") }

// IsNotFound reports an NF error.
func IsNotFound(err error) bool { return inCategory(err, "NF") }

// IsConflict reports a CONF error.
func IsConflict(err error) bool { return inCategory(err, "CONF") }

// IsInternal reports an INT error.
func IsInternal(err error) bool { return inCategory(err, "INT") }

// IsUnavailable reports an UNAVAIL error.
func IsUnavailable(err error) bool { return inCategory(err, "UNAVAIL") }

// IsTimeout reports a TIMEOUT error.
func IsTimeout(err error) bool { return inCategory(err, "TIMEOUT") }

// IsRetryable reports whether the caller may retry the same request: only
// unavailable dependencies and timeouts qualify. A token or denial error is
// never retryable.
func IsRetryable(err error) bool { return inCategory(err, "UNAVAIL", "TIMEOUT") }

// IsClientError reports errors caused by the request or its credentials.
func IsClientError(err error) bool {
	return inCategory(err, "VAL", "AUTH", "AUTHZ", "PROV", "NF", "CONF")
}

// IsServerError reports errors caused by the service or its dependencies.
func IsServerError(err error) bool {
	return inCategory(err, "INT", "UNAVAIL", "TIMEOUT")
}
