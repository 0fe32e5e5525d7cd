package auth

import (
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

// ClaimSet is the verified content of a bearer token. Only [Verifier]
// produces one, and only after the signature has been checked.
type ClaimSet struct {
	subject     string
	email       string
	scope       string
	issuer      string
	audience    []string
	permissions []string
	issuedAt    time.Time
	expiresAt   time.Time
}

// Subject returns the provider's subject id. Never empty.
func (c *ClaimSet) Subject() string { return c.subject }

// Email returns the email claim, or "".
func (c *ClaimSet) Email() string { return c.email }

// Scope returns the space-delimited scope claim, or "".
func (c *ClaimSet) Scope() string { return c.scope }

// Issuer returns the iss claim.
func (c *ClaimSet) Issuer() string { return c.issuer }

// Audience returns a copy of the aud claim.
func (c *ClaimSet) Audience() []string { return slices.Clone(c.audience) }

// Permissions returns a copy of the token's own permissions claim, sorted
// and without duplicates. Authorization decisions do not use it; see
// [Identity.Permissions].
func (c *ClaimSet) Permissions() []string { return slices.Clone(c.permissions) }

// HasPermission reports whether the token's permissions claim lists perm.
func (c *ClaimSet) HasPermission(perm string) bool {
	_, ok := slices.BinarySearch(c.permissions, perm)
	return ok
}

// IssuedAt returns the iat claim, or the zero time.
func (c *ClaimSet) IssuedAt() time.Time { return c.issuedAt }

// ExpiresAt returns the exp claim.
func (c *ClaimSet) ExpiresAt() time.Time { return c.expiresAt }

// accessClaims is the payload shape decoded by the JWT parser. Permissions
// is left untyped so that a non-array claim is reported as a missing
// required claim rather than a decoding failure.
type accessClaims struct {
	jwt.RegisteredClaims
	Email       string `json:"email,omitempty"`
	Scope       string `json:"scope,omitempty"`
	Permissions any    `json:"permissions"`
}

// Validate implements jwt.ClaimsValidator; the parser calls it after the
// registered claims have been checked.
func (c *accessClaims) Validate() error {
	if strings.TrimSpace(c.Subject) == "" {
		return sserr.New(sserr.CodeMissingRequiredClaim, "auth: token has no subject")
	}
	if c.Permissions == nil {
		return sserr.New(sserr.CodeMissingRequiredClaim, "auth: token has no permissions claim")
	}
	list, ok := c.Permissions.([]any)
	if !ok {
		return sserr.New(sserr.CodeMissingRequiredClaim, "auth: permissions claim must be an array")
	}
	for _, p := range list {
		if _, ok := p.(string); !ok {
			return sserr.New(sserr.CodeMissingRequiredClaim, "auth: permissions claim must hold only strings")
		}
	}
	return nil
}

func (c *accessClaims) claimSet() *ClaimSet {
	list, _ := c.Permissions.([]any)
	perms := make([]string, 0, len(list))
	for _, p := range list {
		perms = append(perms, p.(string))
	}
	slices.Sort(perms)

	cs := &ClaimSet{
		subject:     c.Subject,
		email:       c.Email,
		scope:       c.Scope,
		issuer:      c.Issuer,
		audience:    slices.Clone([]string(c.Audience)),
		permissions: slices.Compact(perms),
	}
	if c.IssuedAt != nil {
		cs.issuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		cs.expiresAt = c.ExpiresAt.Time
	}
	return cs
}
