// Package authn defines the authentication-engine collaborator that turns a
// federated credential into a local session artifact, plus a minimal local
// implementation used by the standalone server.
package authn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/fedgate/pkg/observability"
)

// ErrTicketCreation signals that a validated credential could not be
// exchanged for a session artifact. A validated external identity without a
// local ticket must not be treated as logged in.
var ErrTicketCreation = errors.New("authn: ticket creation failed")

// Credential is the normalized identity claim set produced by token
// validation. Ownership transfers to the engine on Finalize.
type Credential struct {
	// Principal is the primary subject identifier from the assertion.
	Principal string

	// Provider names the identity provider that vouched for the subject.
	Provider string

	// Attributes carries the (possibly transformed) assertion attributes.
	Attributes map[string][]string
}

// Result is a finalized authentication outcome.
type Result struct {
	Principal       string
	Service         string
	Provider        string
	Attributes      map[string][]string
	AuthenticatedAt time.Time
}

// TicketID is an opaque ticket-granting identifier.
type TicketID string

// Engine is the authentication-engine collaborator.
type Engine interface {
	// Finalize runs the local authentication transaction for the
	// credential against the target service.
	Finalize(ctx context.Context, service string, credential *Credential) (*Result, error)

	// CreateSessionArtifact exchanges a finalized result for a
	// ticket-granting identifier. Failures wrap ErrTicketCreation.
	CreateSessionArtifact(ctx context.Context, result *Result) (TicketID, error)
}

// LocalEngine is a reference Engine that accepts any structurally valid
// credential and mints ticket-granting identifiers locally.
type LocalEngine struct {
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewLocalEngine creates a LocalEngine.
func NewLocalEngine(logger *observability.Logger, metrics *observability.Metrics) *LocalEngine {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &LocalEngine{
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Finalize implements Engine.
func (e *LocalEngine) Finalize(ctx context.Context, service string, credential *Credential) (*Result, error) {
	if credential == nil || credential.Principal == "" {
		return nil, fmt.Errorf("authn: credential has no principal")
	}

	return &Result{
		Principal:       credential.Principal,
		Service:         service,
		Provider:        credential.Provider,
		Attributes:      credential.Attributes,
		AuthenticatedAt: e.now(),
	}, nil
}

// CreateSessionArtifact implements Engine. Ticket identifiers follow the
// TGT-<uuid> form.
func (e *LocalEngine) CreateSessionArtifact(ctx context.Context, result *Result) (TicketID, error) {
	if result == nil {
		return "", fmt.Errorf("%w: nil result", ErrTicketCreation)
	}

	ticket := TicketID("TGT-" + uuid.NewString())

	if e.metrics != nil {
		e.metrics.TicketsIssuedTotal.WithLabelValues(result.Provider).Inc()
	}
	e.logger.WithFields(map[string]interface{}{
		"principal": result.Principal,
		"provider":  result.Provider,
	}).Info("Issued ticket-granting ticket")

	return ticket, nil
}
