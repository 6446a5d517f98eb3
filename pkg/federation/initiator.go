package federation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/fedgate/pkg/correlation"
	"github.com/platinummonkey/fedgate/pkg/observability"
	"github.com/platinummonkey/fedgate/pkg/registry"
)

// Request parameters the login endpoint understands.
const (
	paramService  = "service"
	paramTheme    = "theme"
	paramLocale   = "locale"
	paramMethod   = "method"
	paramProvider = "provider"
)

// Initiator builds outbound identity-provider redirects. Each redirect
// snapshots the request under a fresh single-use correlation token so the
// callback can be tied back to the attempt that produced it.
type Initiator struct {
	store    correlation.Store
	registry registry.ServiceRegistry
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// NewInitiator creates an Initiator. Snapshot lifetimes are owned by the
// correlation store.
func NewInitiator(store correlation.Store, reg registry.ServiceRegistry, metrics *observability.Metrics, logger *observability.Logger) *Initiator {
	return &Initiator{
		store:    store,
		registry: reg,
		metrics:  metrics,
		logger:   logger,
	}
}

// ResolveRelyingParty returns the relying-party identifier the provider
// should assert to for the target service: the service policy's override
// when one is registered, the provider default otherwise. Registry denial
// surfaces as an ACCESS_DENIED flow error.
func (i *Initiator) ResolveRelyingParty(ctx context.Context, p Provider, service string) (RelyingParty, error) {
	rp := RelyingParty{
		ID:        p.Descriptor().RelyingPartyID,
		Tolerance: p.Descriptor().ToleranceOrDefault(),
	}
	if service == "" {
		return rp, nil
	}

	policy, err := i.registry.FindServiceBy(ctx, service)
	if err != nil {
		if errors.Is(err, registry.ErrAccessDenied) {
			return rp, FlowErrorf(CodeAccessDenied, "service %q is not authorized for federated login", service)
		}
		return rp, NewFlowError(CodeStorage, fmt.Errorf("service registry lookup failed: %w", err))
	}
	if !policy.Allows(p.Name()) {
		return rp, FlowErrorf(CodeAccessDenied, "service %q may not delegate to provider %q", service, p.Name())
	}
	if override := policy.RelyingPartyFor(p.Name()); override != "" {
		rp.ID = override
	}
	return rp, nil
}

// Initiate snapshots the request and returns the provider authorization
// URL the browser should be redirected to.
func (i *Initiator) Initiate(ctx context.Context, p Provider, r *http.Request) (string, error) {
	snapshot := &correlation.Snapshot{
		Service:  r.FormValue(paramService),
		Provider: p.Name(),
		Theme:    r.FormValue(paramTheme),
		Locale:   r.FormValue(paramLocale),
		Method:   r.FormValue(paramMethod),
	}
	return i.InitiateFromSnapshot(ctx, p, snapshot)
}

// InitiateFromSnapshot stores the snapshot under a fresh token and builds
// the authorization URL. The store stamps a fresh deadline, so a consumed
// snapshot can be re-submitted to produce a retry redirect.
func (i *Initiator) InitiateFromSnapshot(ctx context.Context, p Provider, snapshot *correlation.Snapshot) (string, error) {
	rp, err := i.ResolveRelyingParty(ctx, p, snapshot.Service)
	if err != nil {
		return "", err
	}

	snapshot.Provider = p.Name()

	start := time.Now()
	token, err := i.store.Put(ctx, snapshot)
	if err != nil {
		i.metrics.ObserveCorrelationOp("put", "error", start)
		return "", NewFlowError(CodeStorage, fmt.Errorf("failed to store request snapshot: %w", err))
	}
	i.metrics.ObserveCorrelationOp("put", "ok", start)

	redirectURL, err := p.AuthorizationURL(rp.ID, token)
	if err != nil {
		return "", fmt.Errorf("failed to build authorization URL for provider %s: %w", p.Name(), err)
	}

	i.metrics.RedirectsIssuedTotal.WithLabelValues(p.Name()).Inc()
	i.logger.WithFields(map[string]interface{}{
		"provider": p.Name(),
		"service":  snapshot.Service,
	}).Info("Issued identity-provider redirect")

	return redirectURL, nil
}
