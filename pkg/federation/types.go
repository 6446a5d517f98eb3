package federation

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the protocol family of an identity provider.
type Kind string

const (
	KindWsFed  Kind = "wsfed"
	KindSAML   Kind = "saml"
	KindOAuth2 Kind = "oauth2"
	KindOIDC   Kind = "oidc"
)

// DefaultTolerance is the clock-skew allowance applied to token time
// windows when a descriptor does not set one.
const DefaultTolerance = 10 * time.Second

// Descriptor is the immutable configuration for one identity provider.
// Descriptors are loaded at startup and shared read-only across requests.
type Descriptor struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	// Endpoint is the identity provider's authorization/SSO URL.
	Endpoint string `json:"endpoint"`

	// RelyingPartyID is the default relying-party identifier presented to
	// the provider. Service policy may override it per request.
	RelyingPartyID string `json:"relying_party_id"`

	// IdentityProviderID is the issuer identifier expected in returned
	// tokens (wsfed/saml entity ID, OIDC issuer URL).
	IdentityProviderID string `json:"identity_provider_id,omitempty"`

	// CallbackURL is where the provider sends the browser back.
	CallbackURL string `json:"callback_url,omitempty"`

	// Certificates is PEM trust material for signature verification
	// (wsfed and saml kinds).
	Certificates []string `json:"certificates,omitempty"`

	// ClientID and ClientSecret apply to oauth2/oidc kinds.
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	TokenURL     string   `json:"token_url,omitempty"`
	UserInfoURL  string   `json:"user_info_url,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`

	// Tolerance is the permitted clock skew when checking token time
	// windows. DefaultTolerance when zero.
	Tolerance time.Duration `json:"tolerance,omitempty"`

	// AutoRedirect marks this provider as the one the flow routes to
	// without presenting a provider choice.
	AutoRedirect bool `json:"auto_redirect,omitempty"`

	// AttributeTransform names a registered transformation applied to
	// assertion attributes after validation.
	AttributeTransform string `json:"attribute_transform,omitempty"`

	// PrincipalAttribute selects which assertion attribute becomes the
	// credential principal; the token subject is used when empty or
	// absent.
	PrincipalAttribute string `json:"principal_attribute,omitempty"`
}

// ToleranceOrDefault returns the configured tolerance or DefaultTolerance.
func (d *Descriptor) ToleranceOrDefault() time.Duration {
	if d.Tolerance > 0 {
		return d.Tolerance
	}
	return DefaultTolerance
}

// Validate checks that the descriptor is complete for its kind.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if d.Endpoint == "" {
		return fmt.Errorf("provider %s: endpoint is required", d.Name)
	}
	if d.RelyingPartyID == "" {
		return fmt.Errorf("provider %s: relying_party_id is required", d.Name)
	}

	switch d.Kind {
	case KindWsFed, KindSAML:
		if len(d.Certificates) == 0 {
			return fmt.Errorf("provider %s: certificates are required for %s", d.Name, d.Kind)
		}
	case KindOAuth2:
		if d.ClientID == "" || d.ClientSecret == "" {
			return fmt.Errorf("provider %s: client credentials are required for oauth2", d.Name)
		}
		if d.TokenURL == "" {
			return fmt.Errorf("provider %s: token_url is required for oauth2", d.Name)
		}
		if d.UserInfoURL == "" {
			return fmt.Errorf("provider %s: user_info_url is required for oauth2", d.Name)
		}
	case KindOIDC:
		if d.ClientID == "" || d.ClientSecret == "" {
			return fmt.Errorf("provider %s: client credentials are required for oidc", d.Name)
		}
		if d.IdentityProviderID == "" {
			return fmt.Errorf("provider %s: identity_provider_id (issuer) is required for oidc", d.Name)
		}
	default:
		return fmt.Errorf("provider %s: unsupported kind %q", d.Name, d.Kind)
	}

	return nil
}

// RelyingParty carries the per-request identity the token's audience is
// checked against. Computed fresh on each use, never cached.
type RelyingParty struct {
	ID        string
	Tolerance time.Duration
}

// Assertion is a validated security token normalized across provider
// kinds. Consumed once to build a credential; never persisted.
type Assertion struct {
	Provider   *Descriptor
	Subject    string
	Issuer     string
	Audience   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Attributes map[string][]string
}

// AttributeTransform is a pure function over assertion attributes, applied
// once after validation.
type AttributeTransform func(map[string][]string) map[string][]string

// builtinTransforms are the transform names descriptors may reference out
// of the box.
func builtinTransforms() map[string]AttributeTransform {
	return map[string]AttributeTransform{
		"lowercase-keys": func(attrs map[string][]string) map[string][]string {
			out := make(map[string][]string, len(attrs))
			for k, v := range attrs {
				out[strings.ToLower(k)] = v
			}
			return out
		},
	}
}
