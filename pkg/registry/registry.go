// Package registry exposes the service-registry collaborator interface the
// federation flow consumes: per-service access policy, including which
// identity providers a service may delegate to and any relying-party
// identifier overrides.
package registry

import (
	"context"
	"errors"
)

// ErrAccessDenied is returned when the target service is not permitted to
// authenticate through the requested provider.
var ErrAccessDenied = errors.New("registry: service access denied")

// Policy describes what a registered service is allowed to do.
type Policy struct {
	// ServiceID is the service reference this policy applies to.
	ServiceID string `json:"service_id"`

	// AllowedProviders restricts delegation to the named providers. Empty
	// means all configured providers are allowed.
	AllowedProviders []string `json:"allowed_providers,omitempty"`

	// RelyingPartyOverrides maps provider name to a relying-party
	// identifier that replaces the provider's default for this service.
	RelyingPartyOverrides map[string]string `json:"relying_party_overrides,omitempty"`
}

// Allows reports whether the policy permits the named provider.
func (p *Policy) Allows(provider string) bool {
	if len(p.AllowedProviders) == 0 {
		return true
	}
	for _, name := range p.AllowedProviders {
		if name == provider {
			return true
		}
	}
	return false
}

// RelyingPartyFor returns the relying-party override for provider, or ""
// when the provider default applies.
func (p *Policy) RelyingPartyFor(provider string) string {
	if p.RelyingPartyOverrides == nil {
		return ""
	}
	return p.RelyingPartyOverrides[provider]
}

// ServiceRegistry resolves a service reference to its access policy.
type ServiceRegistry interface {
	// FindServiceBy returns the policy for serviceRef. It returns
	// ErrAccessDenied when the service is registered but barred from
	// federated login entirely.
	FindServiceBy(ctx context.Context, serviceRef string) (*Policy, error)
}

// StaticRegistry is an in-memory ServiceRegistry loaded at startup.
type StaticRegistry struct {
	policies map[string]*Policy

	// defaultPolicy applies to services without an explicit entry. Nil
	// means unknown services are denied.
	defaultPolicy *Policy

	// denied lists services explicitly barred from federated login.
	denied map[string]bool
}

// StaticRegistryConfig seeds a StaticRegistry.
type StaticRegistryConfig struct {
	Policies       []Policy `json:"policies,omitempty"`
	DeniedServices []string `json:"denied_services,omitempty"`

	// AllowUnregistered grants unknown services a permissive default
	// policy instead of denying them.
	AllowUnregistered bool `json:"allow_unregistered"`
}

// NewStaticRegistry builds a StaticRegistry from config.
func NewStaticRegistry(cfg StaticRegistryConfig) *StaticRegistry {
	r := &StaticRegistry{
		policies: make(map[string]*Policy, len(cfg.Policies)),
		denied:   make(map[string]bool, len(cfg.DeniedServices)),
	}
	for i := range cfg.Policies {
		p := cfg.Policies[i]
		r.policies[p.ServiceID] = &p
	}
	for _, id := range cfg.DeniedServices {
		r.denied[id] = true
	}
	if cfg.AllowUnregistered {
		r.defaultPolicy = &Policy{}
	}
	return r
}

// FindServiceBy implements ServiceRegistry.
func (r *StaticRegistry) FindServiceBy(ctx context.Context, serviceRef string) (*Policy, error) {
	if r.denied[serviceRef] {
		return nil, ErrAccessDenied
	}
	if p, ok := r.policies[serviceRef]; ok {
		return p, nil
	}
	if r.defaultPolicy != nil {
		return r.defaultPolicy, nil
	}
	return nil, ErrAccessDenied
}
