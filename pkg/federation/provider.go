package federation

import (
	"context"
	"fmt"
	"net/http"
)

// Provider is the capability interface one identity-provider variant
// implements. Everything outside this interface is provider-agnostic.
type Provider interface {
	// Name returns the configured provider instance name.
	Name() string

	// Kind returns the protocol family.
	Kind() Kind

	// Descriptor returns the provider's immutable configuration.
	Descriptor() *Descriptor

	// IsCallback reports whether the inbound request is this provider's
	// redirect return.
	IsCallback(r *http.Request) bool

	// ExtractState pulls the opaque correlation state from the inbound
	// request ("" when absent).
	ExtractState(r *http.Request) string

	// ExtractToken pulls the raw security token or authorization code
	// from the inbound request ("" when absent).
	ExtractToken(r *http.Request) string

	// AuthorizationURL builds the outbound URL embedding the
	// relying-party identifier and the correlation state.
	AuthorizationURL(relyingPartyID, state string) (string, error)

	// Validate parses and verifies the raw token against the provider's
	// trust material and the given relying party. Failures are
	// *FlowError values with the appropriate code.
	Validate(ctx context.Context, rawToken string, rp RelyingParty) (*Assertion, error)
}

// NewProvider constructs the variant matching the descriptor kind.
func NewProvider(ctx context.Context, d *Descriptor) (Provider, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	switch d.Kind {
	case KindWsFed:
		return NewWsFedProvider(d)
	case KindSAML:
		return NewSAMLProvider(d)
	case KindOAuth2:
		return NewOAuth2Provider(d)
	case KindOIDC:
		return NewOIDCProvider(ctx, d)
	default:
		return nil, fmt.Errorf("unsupported provider kind: %s", d.Kind)
	}
}

// ProviderSet holds the configured providers in declaration order.
type ProviderSet struct {
	providers []Provider
	byName    map[string]Provider
}

// NewProviderSet constructs every provider from the descriptors.
func NewProviderSet(ctx context.Context, descriptors []Descriptor) (*ProviderSet, error) {
	providers := make([]Provider, 0, len(descriptors))
	for i := range descriptors {
		p, err := NewProvider(ctx, &descriptors[i])
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return NewProviderSetFrom(providers...)
}

// NewProviderSetFrom assembles a set from already-built providers.
func NewProviderSetFrom(providers ...Provider) (*ProviderSet, error) {
	set := &ProviderSet{
		byName: make(map[string]Provider, len(providers)),
	}
	for _, p := range providers {
		if _, exists := set.byName[p.Name()]; exists {
			return nil, fmt.Errorf("duplicate provider name: %s", p.Name())
		}
		set.providers = append(set.providers, p)
		set.byName[p.Name()] = p
	}
	return set, nil
}

// All returns the providers in declaration order.
func (s *ProviderSet) All() []Provider {
	return s.providers
}

// ByName looks up a provider by instance name.
func (s *ProviderSet) ByName(name string) (Provider, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// AutoRedirect returns the first provider marked auto-redirect, or nil.
func (s *ProviderSet) AutoRedirect() Provider {
	for _, p := range s.providers {
		if p.Descriptor().AutoRedirect {
			return p
		}
	}
	return nil
}

// CallbackProvider returns the first provider that recognizes the request
// shape as a redirect return, or nil. It only routes the request into the
// callback path; the resolver picks the handling provider off the consumed
// snapshot, since providers sharing a protocol look alike on the wire.
func (s *ProviderSet) CallbackProvider(r *http.Request) Provider {
	for _, p := range s.providers {
		if p.IsCallback(r) {
			return p
		}
	}
	return nil
}
