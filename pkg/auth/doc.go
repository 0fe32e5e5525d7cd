// Package auth is the authorization core of the API: it verifies bearer
// tokens issued by the external identity provider, resolves the verified
// subject into an internal [Identity] with roles from the directory, and
// decides whether that identity satisfies an operation's
// [AccessRequirement].
//
// The pieces compose leaf-first:
//
//	KeySource   provider signing keys, cached, refreshed with a cool-down
//	Verifier    token -> *ClaimSet
//	Resolver    *ClaimSet -> *Identity (directory lookup, never cached)
//	Engine      (AccessRequirement, *Identity) -> Decision
//	Gatekeeper  token + AccessRequirement -> *Identity or coded error
//
// Transport adapters ([HTTPMiddleware], [UnaryServerInterceptor]) extract the
// bearer token and hand it to a [Gatekeeper]; handlers read the result with
// [IdentityFromContext].
//
// Every failure is an *errors.Error (imported as sserr) whose code tells the
// caller whether the token was rejected (AUTH), access was denied (AUTHZ),
// the principal needs administrative action (PROV), or a dependency was
// unreachable and the request may be retried (UNAVAIL).
package auth
