package federation

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/fedgate/pkg/authn"
	"github.com/platinummonkey/fedgate/pkg/observability"
)

// Validator turns a correlated callback into a normalized credential. The
// checks run in a fixed order (token presence, parse, signature, time
// window, audience) and the first failure wins; the provider implements
// the protocol-specific middle stages.
type Validator struct {
	initiator  *Initiator
	metrics    *observability.Metrics
	logger     *observability.Logger
	transforms map[string]AttributeTransform
}

// NewValidator creates a Validator. Extra transforms are merged over the
// built-in set; a name collision favors the caller's.
func NewValidator(initiator *Initiator, metrics *observability.Metrics, logger *observability.Logger, extra map[string]AttributeTransform) *Validator {
	transforms := builtinTransforms()
	for name, fn := range extra {
		transforms[name] = fn
	}
	return &Validator{
		initiator:  initiator,
		metrics:    metrics,
		logger:     logger,
		transforms: transforms,
	}
}

// Validate extracts and validates the callback's security token against
// the relying party resolved for the snapshot's target service, then
// builds the credential. Stale or mis-audienced tokens come back with a
// retry URL attached so the caller can send the browser around again.
func (v *Validator) Validate(ctx context.Context, r *http.Request, resolved *Resolved) (*authn.Credential, error) {
	p := resolved.Provider
	d := p.Descriptor()

	rawToken := p.ExtractToken(r)
	if rawToken == "" {
		return nil, v.fail(p, FlowErrorf(CodeMissingToken, "callback from provider %q carries no security token", p.Name()))
	}

	rp, err := v.initiator.ResolveRelyingParty(ctx, p, resolved.Snapshot.Service)
	if err != nil {
		return nil, v.fail(p, err)
	}

	assertion, err := p.Validate(ctx, rawToken, rp)
	if err != nil {
		v.attachRetryURL(ctx, resolved, err)
		return nil, v.fail(p, err)
	}

	attrs := assertion.Attributes
	if d.AttributeTransform != "" {
		transform, ok := v.transforms[d.AttributeTransform]
		if !ok {
			// CheckProviderTransforms rejects this at startup; reaching it
			// here means the provider set changed underneath us.
			return nil, v.fail(p, fmt.Errorf(
				"provider %q references unknown attribute transform %q", p.Name(), d.AttributeTransform))
		}
		attrs = transform(attrs)
	}

	principal := assertion.Subject
	if d.PrincipalAttribute != "" {
		if values := attrs[d.PrincipalAttribute]; len(values) > 0 && values[0] != "" {
			principal = values[0]
		}
	}
	if principal == "" {
		return nil, v.fail(p, FlowErrorf(CodeMalformedToken,
			"token from provider %q resolves to no principal", p.Name()))
	}

	v.logger.WithFields(map[string]interface{}{
		"provider":  p.Name(),
		"principal": principal,
	}).Info("Validated federated security token")

	return &authn.Credential{
		Principal:  principal,
		Provider:   p.Name(),
		Attributes: attrs,
	}, nil
}

// CheckProviderTransforms verifies every provider's attribute transform
// resolves to a registered one. Meant to run at startup so a typo in the
// provider file fails the boot instead of the first login.
func (v *Validator) CheckProviderTransforms(providers []Provider) error {
	for _, p := range providers {
		name := p.Descriptor().AttributeTransform
		if name == "" {
			continue
		}
		if _, ok := v.transforms[name]; !ok {
			return fmt.Errorf("provider %q references unknown attribute transform %q", p.Name(), name)
		}
	}
	return nil
}

// attachRetryURL puts a fresh snapshot and sets a same-provider retry
// redirect on stale or mis-audienced assertions. A failed retry build is
// logged and swallowed; the original rejection stands.
func (v *Validator) attachRetryURL(ctx context.Context, resolved *Resolved, err error) {
	var fe *FlowError
	if !errors.As(err, &fe) {
		return
	}
	if fe.Code != CodeExpired && fe.Code != CodeAudienceMismatch {
		return
	}

	retryURL, buildErr := v.initiator.InitiateFromSnapshot(ctx, resolved.Provider, resolved.Snapshot)
	if buildErr != nil {
		v.logger.WithError(buildErr).Warn("Failed to build retry redirect for rejected token")
		return
	}
	fe.RetryURL = retryURL
}

// fail records the validation failure metric and returns err unchanged.
func (v *Validator) fail(p Provider, err error) error {
	reason := string(CodeOf(err))
	if reason == "" {
		reason = "internal"
	}
	v.metrics.ValidationFailuresTotal.WithLabelValues(p.Name(), reason).Inc()
	return err
}
