package federation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/fedgate/pkg/correlation"
	"github.com/platinummonkey/fedgate/pkg/observability"
	"github.com/platinummonkey/fedgate/pkg/webflow"
)

// Resolved is the outcome of correlating a callback with the login attempt
// that produced it.
type Resolved struct {
	Provider Provider
	Snapshot *correlation.Snapshot
}

// CallbackResolver ties an inbound identity-provider callback back to its
// originating request via the correlation token echoed in the state
// parameter. Consuming the token is atomic; a replayed callback misses.
//
// The provider that handles the rest of the callback is the one recorded in
// the snapshot when the redirect was issued, not whichever provider first
// recognized the request shape. Providers sharing a protocol also share
// parameter names, so the request alone cannot tell them apart.
type CallbackResolver struct {
	store     correlation.Store
	providers *ProviderSet
	metrics   *observability.Metrics
	logger    *observability.Logger
}

// NewCallbackResolver creates a CallbackResolver.
func NewCallbackResolver(store correlation.Store, providers *ProviderSet, metrics *observability.Metrics, logger *observability.Logger) *CallbackResolver {
	return &CallbackResolver{store: store, providers: providers, metrics: metrics, logger: logger}
}

// Resolve extracts the state parameter, consumes the snapshot it names,
// selects the provider the snapshot was minted for, and restores the
// captured request attributes into the webflow context.
func (c *CallbackResolver) Resolve(ctx context.Context, p Provider, r *http.Request, fc *webflow.Context) (*Resolved, error) {
	token := p.ExtractState(r)
	if token == "" {
		return nil, FlowErrorf(CodeMissingState, "callback from provider %q carries no state parameter", p.Name())
	}

	start := time.Now()
	snapshot, err := c.store.Take(ctx, token)
	if err != nil {
		if errors.Is(err, correlation.ErrNotFound) {
			c.metrics.ObserveCorrelationOp("take", "miss", start)
			return nil, NewFlowError(CodeInvalidOrExpiredState, err)
		}
		c.metrics.ObserveCorrelationOp("take", "error", start)
		return nil, NewFlowError(CodeStorage, fmt.Errorf("failed to consume correlation token: %w", err))
	}
	c.metrics.ObserveCorrelationOp("take", "ok", start)

	actual, ok := c.providers.ByName(snapshot.Provider)
	if !ok || actual.ExtractState(r) != token {
		// Token minted for one provider, presented on a callback its own
		// extractor does not recognize. Treated like any other stale state,
		// without explaining which check tripped.
		c.logger.WithFields(map[string]interface{}{
			"expected": snapshot.Provider,
			"actual":   p.Name(),
		}).Warn("Correlation token presented to the wrong provider callback")
		return nil, FlowErrorf(CodeInvalidOrExpiredState, "correlation token does not match provider %q", p.Name())
	}

	restoreSnapshot(snapshot, fc)

	c.logger.WithFields(map[string]interface{}{
		"provider": actual.Name(),
		"service":  snapshot.Service,
	}).Debug("Restored request snapshot from callback state")

	return &Resolved{Provider: actual, Snapshot: snapshot}, nil
}

// restoreSnapshot copies the captured pre-redirect attributes into the
// request scope so downstream rendering sees the same service, theme,
// locale, and method the login started with.
func restoreSnapshot(s *correlation.Snapshot, fc *webflow.Context) {
	if s.Service != "" {
		fc.RequestScope.Put(webflow.AttrService, s.Service)
	}
	if s.Theme != "" {
		fc.RequestScope.Put(webflow.AttrTheme, s.Theme)
	}
	if s.Locale != "" {
		fc.RequestScope.Put(webflow.AttrLocale, s.Locale)
	}
	if s.Method != "" {
		fc.RequestScope.Put(webflow.AttrMethod, s.Method)
	}
}
