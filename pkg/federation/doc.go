// Package federation implements the delegated-authentication bridge between
// the login flow and external identity providers.
//
// # Overview
//
// A login attempt that delegates to an external provider crosses an
// untrusted browser redirect twice: once out to the provider, once back
// with a security token. The package's job is to make that round-trip safe:
//
//  1. Redirect initiation: resolve the relying-party identifier for the
//     (service, provider) pair, snapshot the pre-redirect request state
//     into the correlation store, and build the provider's authorization
//     URL with the correlation token as opaque state.
//  2. Callback resolution: recover the snapshot (single use, expiring) and
//     restore the original service, theme, locale and method.
//  3. Token validation: parse the returned token, verify its signature
//     against configured trust material, and check time bounds and
//     audience against the freshly recomputed relying-party identifier.
//  4. Outcome mapping: reduce every result to the closed webflow event set
//     (success with a ticket-granting ticket, error, or redirect for the
//     retry-on-stale-assertion case).
//
// # Provider variants
//
// WS-Federation (wa/wresult/wctx), SAML 2.0 (SAMLResponse/RelayState via
// gosaml2), and OAuth2/OIDC (code/state via golang.org/x/oauth2 and
// coreos/go-oidc) each implement the Provider interface; everything past
// parameter extraction and token validation is provider-agnostic.
//
// # Related packages
//
//   - pkg/correlation: single-use snapshot storage
//   - pkg/registry: per-service provider policy and relying-party overrides
//   - pkg/authn: credential finalization and ticket issuance
//   - pkg/webflow: the closed event set and attribute scopes
package federation
