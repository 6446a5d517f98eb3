package federation

import (
	"context"
	"net/http"
	"net/url"

	"github.com/platinummonkey/fedgate/pkg/observability"
	"github.com/platinummonkey/fedgate/pkg/webflow"
)

// ProviderView is one entry of the provider-selection list rendered when
// no provider was chosen and none auto-redirects.
type ProviderView struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	LoginURL string `json:"login_url"`
}

// Action is the single entry point of the federated login flow. One
// execution handles exactly one of: an inbound identity-provider callback,
// an explicit provider selection, an auto-redirect, or rendering the
// provider choice.
type Action struct {
	providers *ProviderSet
	initiator *Initiator
	resolver  *CallbackResolver
	validator *Validator
	outcome   *Outcome
	logger    *observability.Logger

	// loginPath is the local path provider-selection entries point at.
	// Selection links stay local so no correlation token is minted until
	// the user actually picks a provider.
	loginPath string
}

// NewAction wires the flow components together.
func NewAction(providers *ProviderSet, initiator *Initiator, resolver *CallbackResolver, validator *Validator, outcome *Outcome, logger *observability.Logger, loginPath string) *Action {
	if loginPath == "" {
		loginPath = "/login"
	}
	return &Action{
		providers: providers,
		initiator: initiator,
		resolver:  resolver,
		validator: validator,
		outcome:   outcome,
		logger:    logger,
		loginPath: loginPath,
	}
}

// Execute runs one step of the login flow for the request and returns the
// resulting event.
func (a *Action) Execute(ctx context.Context, r *http.Request, fc *webflow.Context) webflow.Event {
	if p := a.providers.CallbackProvider(r); p != nil {
		return a.handleCallback(observability.WithProvider(ctx, p.Name()), p, r, fc)
	}

	if name := r.FormValue(paramProvider); name != "" {
		p, ok := a.providers.ByName(name)
		if !ok {
			return a.outcome.Failure(fc, nil,
				FlowErrorf(CodeAccessDenied, "unknown identity provider %q", name))
		}
		return a.redirect(observability.WithProvider(ctx, p.Name()), p, r, fc)
	}

	if p := a.providers.AutoRedirect(); p != nil {
		return a.redirect(observability.WithProvider(ctx, p.Name()), p, r, fc)
	}

	return a.proceed(fc)
}

// handleCallback correlates, validates, and finalizes an identity-provider
// callback.
func (a *Action) handleCallback(ctx context.Context, p Provider, r *http.Request, fc *webflow.Context) webflow.Event {
	resolved, err := a.resolver.Resolve(ctx, p, r, fc)
	if err != nil {
		return a.outcome.Failure(fc, p, err)
	}

	// The snapshot names the provider the login started against; trust it
	// over the request-shape match from here on.
	p = resolved.Provider
	ctx = observability.WithProvider(ctx, p.Name())

	credential, err := a.validator.Validate(ctx, r, resolved)
	if err != nil {
		return a.outcome.Failure(fc, p, err)
	}

	return a.outcome.Success(ctx, fc, resolved, credential)
}

// redirect initiates an outbound login against p.
func (a *Action) redirect(ctx context.Context, p Provider, r *http.Request, fc *webflow.Context) webflow.Event {
	redirectURL, err := a.initiator.Initiate(ctx, p, r)
	if err != nil {
		return a.outcome.Failure(fc, p, err)
	}
	fc.FlowScope.Put(webflow.AttrProviderURL, redirectURL)
	return webflow.Redirect(redirectURL)
}

// proceed publishes the provider-selection list into the flow scope.
func (a *Action) proceed(fc *webflow.Context) webflow.Event {
	all := a.providers.All()
	views := make([]ProviderView, 0, len(all))
	for _, p := range all {
		views = append(views, ProviderView{
			Name:     p.Name(),
			Kind:     p.Kind(),
			LoginURL: a.loginPath + "?" + url.Values{paramProvider: {p.Name()}}.Encode(),
		})
	}
	fc.FlowScope.Put(webflow.AttrProviderList, views)
	return webflow.Proceed()
}
