package federation

import (
	"context"
	"fmt"

	"github.com/platinummonkey/fedgate/pkg/authn"
	"github.com/platinummonkey/fedgate/pkg/observability"
	"github.com/platinummonkey/fedgate/pkg/webflow"
)

// Outcome finishes a login attempt: a validated credential becomes a local
// session artifact and a success event, a rejection becomes an error or a
// retry redirect. The event set is closed; every path lands on one of them.
type Outcome struct {
	engine  authn.Engine
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewOutcome creates an Outcome.
func NewOutcome(engine authn.Engine, metrics *observability.Metrics, logger *observability.Logger) *Outcome {
	return &Outcome{engine: engine, metrics: metrics, logger: logger}
}

// Success finalizes the credential and stores the resulting ticket in both
// webflow scopes. A validated external identity that cannot be exchanged
// for a ticket is a failure, not a partial success.
func (o *Outcome) Success(ctx context.Context, fc *webflow.Context, resolved *Resolved, credential *authn.Credential) webflow.Event {
	service := resolved.Snapshot.Service

	result, err := o.engine.Finalize(ctx, service, credential)
	if err != nil {
		return o.Failure(fc, resolved.Provider,
			NewFlowError(CodeTicketCreation, fmt.Errorf("authentication finalization failed: %w", err)))
	}

	ticket, err := o.engine.CreateSessionArtifact(ctx, result)
	if err != nil {
		return o.Failure(fc, resolved.Provider,
			NewFlowError(CodeTicketCreation, fmt.Errorf("session artifact creation failed: %w", err)))
	}

	fc.RequestScope.Put(webflow.AttrTicket, string(ticket))
	fc.FlowScope.Put(webflow.AttrTicket, string(ticket))

	o.metrics.LoginAttemptsTotal.WithLabelValues(resolved.Provider.Name(), string(webflow.EventSuccess)).Inc()
	o.logger.WithFields(map[string]interface{}{
		"provider":  resolved.Provider.Name(),
		"principal": credential.Principal,
		"service":   service,
	}).Info("Federated login succeeded")

	return webflow.Success()
}

// Failure maps a rejection to its terminal event. A retry URL on the error
// wins over the error event: the browser goes back to the provider with a
// fresh correlation token instead of seeing a failure page.
func (o *Outcome) Failure(fc *webflow.Context, p Provider, err error) webflow.Event {
	providerName := "unknown"
	if p != nil {
		providerName = p.Name()
	}

	if retryURL := RetryURLOf(err); retryURL != "" {
		o.metrics.LoginAttemptsTotal.WithLabelValues(providerName, string(webflow.EventRedirect)).Inc()
		o.logger.WithError(err).WithField("provider", providerName).
			Warn("Rejected stale token; retrying against the identity provider")
		fc.FlowScope.Put(webflow.AttrProviderURL, retryURL)
		return webflow.Redirect(retryURL)
	}

	log := o.logger.WithError(err).WithField("provider", providerName)
	if code := CodeOf(err); code != "" && !code.IsInfrastructure() {
		// Token-level rejections are expected traffic (expired assertions,
		// replayed callbacks); only infrastructure failures page anyone.
		log.Warn("Federated login rejected")
	} else {
		log.Error("Federated login failed")
	}

	o.metrics.LoginAttemptsTotal.WithLabelValues(providerName, string(webflow.EventError)).Inc()
	return webflow.Error(err)
}
