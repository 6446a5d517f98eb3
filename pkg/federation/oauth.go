package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OAuth2-family parameter names.
const (
	oauthParamCode  = "code"
	oauthParamState = "state"
)

// OAuth2Provider implements plain OAuth2 authorization-code delegation.
// The callback's code is exchanged server-side and the userinfo endpoint
// supplies the claim set; this exchange is the one permitted outbound call
// at validation time and is bounded by the request context.
type OAuth2Provider struct {
	descriptor *Descriptor
	config     *oauth2.Config
}

// NewOAuth2Provider creates an OAuth2 provider from explicit endpoints.
func NewOAuth2Provider(d *Descriptor) (*OAuth2Provider, error) {
	return &OAuth2Provider{
		descriptor: d,
		config: &oauth2.Config{
			ClientID:     d.ClientID,
			ClientSecret: d.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  d.Endpoint,
				TokenURL: d.TokenURL,
			},
			RedirectURL: d.CallbackURL,
			Scopes:      d.Scopes,
		},
	}, nil
}

// Name returns the provider instance name.
func (p *OAuth2Provider) Name() string { return p.descriptor.Name }

// Kind returns KindOAuth2.
func (p *OAuth2Provider) Kind() Kind { return KindOAuth2 }

// Descriptor returns the provider configuration.
func (p *OAuth2Provider) Descriptor() *Descriptor { return p.descriptor }

// IsCallback reports whether the request is an authorization-endpoint
// return. The state parameter round-trips on both success and error
// returns (error=access_denied carries state but no code), so it is the
// routing marker; the code is checked later.
func (p *OAuth2Provider) IsCallback(r *http.Request) bool {
	return r.FormValue(oauthParamState) != ""
}

// ExtractState returns the state parameter.
func (p *OAuth2Provider) ExtractState(r *http.Request) string {
	return r.FormValue(oauthParamState)
}

// ExtractToken returns the authorization code.
func (p *OAuth2Provider) ExtractToken(r *http.Request) string {
	return r.FormValue(oauthParamCode)
}

// AuthorizationURL builds the authorization-code URL with the correlation
// token as state. OAuth2 has no audience parameter; the client ID plays
// that role, so the relying-party identifier is not embedded.
func (p *OAuth2Provider) AuthorizationURL(relyingPartyID, state string) (string, error) {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// Validate exchanges the code and fetches the userinfo claim set.
func (p *OAuth2Provider) Validate(ctx context.Context, rawToken string, rp RelyingParty) (*Assertion, error) {
	token, err := p.config.Exchange(ctx, rawToken)
	if err != nil {
		return nil, NewFlowError(CodeMalformedToken, fmt.Errorf("code exchange failed: %w", err))
	}

	client := p.config.Client(ctx, token)
	resp, err := client.Get(p.descriptor.UserInfoURL)
	if err != nil {
		return nil, NewFlowError(CodeUntrustedSignature, fmt.Errorf("userinfo fetch failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, FlowErrorf(CodeUntrustedSignature, "userinfo request failed with status %d", resp.StatusCode)
	}

	var claims map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, NewFlowError(CodeMalformedToken, fmt.Errorf("failed to decode userinfo: %w", err))
	}

	assertion := &Assertion{
		Provider:   p.descriptor,
		Audience:   rp.ID,
		Issuer:     p.descriptor.IdentityProviderID,
		Attributes: claimsToAttributes(claims),
	}
	if sub, ok := claims["sub"].(string); ok {
		assertion.Subject = sub
	}
	if !token.Expiry.IsZero() {
		assertion.ExpiresAt = token.Expiry
	}

	return assertion, nil
}

// OIDCProvider implements OpenID Connect delegation with discovery-based
// endpoints and local ID-token verification.
type OIDCProvider struct {
	descriptor *Descriptor
	provider   *oidc.Provider
	config     *oauth2.Config
}

// NewOIDCProvider discovers the issuer's endpoints and builds the provider.
func NewOIDCProvider(ctx context.Context, d *Descriptor) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, d.IdentityProviderID)
	if err != nil {
		return nil, fmt.Errorf("provider %s: OIDC discovery failed: %w", d.Name, err)
	}

	scopes := d.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &OIDCProvider{
		descriptor: d,
		provider:   provider,
		config: &oauth2.Config{
			ClientID:     d.ClientID,
			ClientSecret: d.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  d.CallbackURL,
			Scopes:       scopes,
		},
	}, nil
}

// Name returns the provider instance name.
func (p *OIDCProvider) Name() string { return p.descriptor.Name }

// Kind returns KindOIDC.
func (p *OIDCProvider) Kind() Kind { return KindOIDC }

// Descriptor returns the provider configuration.
func (p *OIDCProvider) Descriptor() *Descriptor { return p.descriptor }

// IsCallback reports whether the request is an authorization-endpoint
// return, keyed on the round-tripped state parameter.
func (p *OIDCProvider) IsCallback(r *http.Request) bool {
	return r.FormValue(oauthParamState) != ""
}

// ExtractState returns the state parameter.
func (p *OIDCProvider) ExtractState(r *http.Request) string {
	return r.FormValue(oauthParamState)
}

// ExtractToken returns the authorization code.
func (p *OIDCProvider) ExtractToken(r *http.Request) string {
	return r.FormValue(oauthParamCode)
}

// AuthorizationURL builds the authorization-code URL with the correlation
// token as state.
func (p *OIDCProvider) AuthorizationURL(relyingPartyID, state string) (string, error) {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// Validate exchanges the code, verifies the ID token's signature against
// the issuer's keyset, and checks the audience against the relying party.
func (p *OIDCProvider) Validate(ctx context.Context, rawToken string, rp RelyingParty) (*Assertion, error) {
	token, err := p.config.Exchange(ctx, rawToken)
	if err != nil {
		return nil, NewFlowError(CodeMalformedToken, fmt.Errorf("code exchange failed: %w", err))
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, FlowErrorf(CodeMalformedToken, "missing id_token in token response")
	}

	// The audience is checked manually below so an AUDIENCE_MISMATCH can
	// be distinguished from a bad signature.
	verifier := p.provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		var expiredErr *oidc.TokenExpiredError
		if errors.As(err, &expiredErr) {
			return nil, NewFlowError(CodeExpired, err)
		}
		return nil, NewFlowError(CodeUntrustedSignature, fmt.Errorf("ID token verification failed: %w", err))
	}

	if !containsString(idToken.Audience, rp.ID) {
		return nil, FlowErrorf(CodeAudienceMismatch,
			"ID token audience %v does not include relying party %q", idToken.Audience, rp.ID)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, NewFlowError(CodeMalformedToken, fmt.Errorf("failed to parse claims: %w", err))
	}

	return &Assertion{
		Provider:   p.descriptor,
		Subject:    idToken.Subject,
		Issuer:     idToken.Issuer,
		Audience:   rp.ID,
		IssuedAt:   idToken.IssuedAt,
		ExpiresAt:  idToken.Expiry,
		Attributes: claimsToAttributes(claims),
	}, nil
}

// claimsToAttributes flattens a JSON claim set to the multi-valued
// attribute form shared by all variants.
func claimsToAttributes(claims map[string]interface{}) map[string][]string {
	attrs := make(map[string][]string, len(claims))
	for k, v := range claims {
		switch value := v.(type) {
		case string:
			attrs[k] = []string{value}
		case []interface{}:
			for _, item := range value {
				if s, ok := item.(string); ok {
					attrs[k] = append(attrs[k], s)
				}
			}
		case bool, float64:
			attrs[k] = []string{fmt.Sprintf("%v", value)}
		}
	}
	return attrs
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
