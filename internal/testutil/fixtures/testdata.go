// Package fixtures provides the shared constants used across the test suites
// so that subjects, tenants and endpoints are spelled the same everywhere.
package fixtures

// Token and provider values.
const (
	// Issuer is the identity provider issuer used by the fake provider. It
	// ends in a slash the way hosted OIDC tenants publish it.
	Issuer = "https://tenant.auth.stricklysoft.test/"

	// Audience is the API identifier tokens are minted for.
	Audience = "https://api.mirai-dx.test"

	// OtherAudience is an audience no service under test accepts.
	OtherAudience = "https://unrelated.example.test"

	// KeyID and RotatedKeyID name the fake provider's signing keys.
	KeyID        = "sig-key-2026-01"
	RotatedKeyID = "sig-key-2026-07"
)

// Principal values.
const (
	// Subject is the external subject id of the provisioned test user.
	Subject = "auth0|64f0c0ffee00000000000001"

	// UnknownSubject is a subject no directory contains.
	UnknownSubject = "auth0|64f0deadbeef000000000099"

	// Email is the address carried in the token of Subject.
	Email = "hanako.sato@mirai-dx.test"

	// StoredEmail is the address the directory has on file for Subject.
	StoredEmail = "h.sato@mirai-dx.test"

	// UserID and OrganizationID are the directory identifiers of Subject.
	UserID         = "0d6b5d0e-7f47-4a53-9a6a-2f0f6f6c1a01"
	OrganizationID = "6a3c8f4e-2b1d-4c5e-8f9a-0b1c2d3e4f50"
)

// Configuration values for loader and client tests.
const (
	EnvPrefix = "AUTHZTEST"

	DBHost     = "localhost"
	DBPort     = 5432
	DBName     = "authz"
	DBUser     = "authz"
	DBPassword = "authz-test-password"
)

// Object storage values for the audit archive.
const (
	MinIOAccessKey = "minioadmin"
	MinIOSecretKey = "minioadmin"
	AuditBucket    = "authz-audit"
)
