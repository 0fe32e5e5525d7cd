package errors

// Code is a stable, machine-readable error identifier. Codes never change
// meaning once published; clients switch on them.
type Code string

// Validation (VAL_xxx).
const (
	CodeValidation         Code = "VAL_001"
	CodeValidationRequired Code = "VAL_002"
	CodeValidationFormat   Code = "VAL_003"
	CodeValidationRange    Code = "VAL_004"
)

// Authentication (AUTH_xxx). Every token validity failure is permanent for
// the token that produced it.
const (
	// CodeAuthentication is the generic authentication failure. Unexpected
	// internal faults on the authentication path are reported with this code
	// so that no detail leaks to the caller.
	CodeAuthentication Code = "AUTH_001"

	CodeTokenExpired         Code = "AUTH_002"
	CodeMalformedToken       Code = "AUTH_003"
	CodeUnknownSigningKey    Code = "AUTH_004"
	CodeInvalidSignature     Code = "AUTH_005"
	CodeTokenNotYetValid     Code = "AUTH_006"
	CodeAudienceMismatch     Code = "AUTH_007"
	CodeIssuerMismatch       Code = "AUTH_008"
	CodeMissingRequiredClaim Code = "AUTH_009"

	// CodeUnsupportedAlgorithm rejects tokens whose header names a signing
	// algorithm other than the configured asymmetric one, including "none"
	// and every HMAC variant.
	CodeUnsupportedAlgorithm Code = "AUTH_010"

	// CodeUnauthenticated is the denial issued when a protected operation is
	// reached without any identity.
	CodeUnauthenticated Code = "AUTH_011"
)

// Authorization (AUTHZ_xxx). Denials are expected outcomes, not faults.
const (
	CodeAuthorization          Code = "AUTHZ_001"
	CodeInsufficientRole       Code = "AUTHZ_002"
	CodeInsufficientPermission Code = "AUTHZ_003"
)

// Provisioning (PROV_xxx). The token was valid but the principal cannot act
// until an administrator changes its record.
const (
	CodeUnprovisionedPrincipal Code = "PROV_001"
	CodePrincipalDeactivated   Code = "PROV_002"
)

// Not found (NF_xxx).
const (
	CodeNotFound     Code = "NF_001"
	CodeNotFoundUser Code = "NF_002"
)

// Conflict (CONF_xxx).
const (
	CodeConflict              Code = "CONF_001"
	CodeConflictAlreadyExists Code = "CONF_002"
)

// Internal (INT_xxx).
const (
	CodeInternal              Code = "INT_001"
	CodeInternalDatabase      Code = "INT_002"
	CodeInternalConfiguration Code = "INT_003"

	// CodeAuditRecordingFailed reports that an audit entry could not be
	// appended. The action it describes has already happened.
	CodeAuditRecordingFailed Code = "INT_004"

	CodeInternalCache   Code = "INT_005"
	CodeInternalStorage Code = "INT_006"
)

// Unavailable (UNAVAIL_xxx). Retryable.
const (
	CodeUnavailable              Code = "UNAVAIL_001"
	CodeUnavailableDependency    Code = "UNAVAIL_002"
	CodeUnavailableOverloaded    Code = "UNAVAIL_003"
	CodeKeySourceUnavailable     Code = "UNAVAIL_004"
	CodeIdentityStoreUnavailable Code = "UNAVAIL_005"
)

// Timeout (TIMEOUT_xxx). Retryable.
const (
	CodeTimeout           Code = "TIMEOUT_001"
	CodeTimeoutDatabase   Code = "TIMEOUT_002"
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

// String returns the code text.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore ("AUTH" for
// "AUTH_004"). A code without an underscore is its own category.
func (c Code) Category() string {
	s := string(c)
	for i := 0; i < len(s); i++ {
		if s[i] == '_' {
			return s[:i]
		}
	}
	return s
}
