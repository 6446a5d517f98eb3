package federation

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"
)

// SAML protocol parameter names.
const (
	samlParamResponse   = "SAMLResponse"
	samlParamRelayState = "RelayState"
)

// SAMLProvider implements SAML 2.0 web SSO. The correlation token rides in
// RelayState; the assertion arrives base64-encoded in SAMLResponse.
type SAMLProvider struct {
	descriptor *Descriptor
	certStore  *dsig.MemoryX509CertificateStore
}

// NewSAMLProvider creates a SAML provider, parsing the descriptor's PEM
// trust material.
func NewSAMLProvider(d *Descriptor) (*SAMLProvider, error) {
	roots := make([]*x509.Certificate, 0, len(d.Certificates))
	for _, pemCert := range d.Certificates {
		block, _ := pem.Decode([]byte(pemCert))
		if block == nil {
			return nil, fmt.Errorf("provider %s: failed to decode certificate PEM", d.Name)
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("provider %s: failed to parse certificate: %w", d.Name, err)
		}
		roots = append(roots, cert)
	}

	return &SAMLProvider{
		descriptor: d,
		certStore:  &dsig.MemoryX509CertificateStore{Roots: roots},
	}, nil
}

// Name returns the provider instance name.
func (p *SAMLProvider) Name() string { return p.descriptor.Name }

// Kind returns KindSAML.
func (p *SAMLProvider) Kind() Kind { return KindSAML }

// Descriptor returns the provider configuration.
func (p *SAMLProvider) Descriptor() *Descriptor { return p.descriptor }

// IsCallback reports whether the request is a SAML assertion-consumer
// return. RelayState is the marker: it round-trips on every return we
// issued, including ones where the IdP dropped or blanked the response.
func (p *SAMLProvider) IsCallback(r *http.Request) bool {
	return r.FormValue(samlParamRelayState) != ""
}

// ExtractState returns the RelayState parameter.
func (p *SAMLProvider) ExtractState(r *http.Request) string {
	return r.FormValue(samlParamRelayState)
}

// ExtractToken returns the SAMLResponse parameter.
func (p *SAMLProvider) ExtractToken(r *http.Request) string {
	return r.FormValue(samlParamResponse)
}

// serviceProvider builds a gosaml2 service provider for one validation.
// The relying-party identifier is per-request, so the SP cannot be shared.
func (p *SAMLProvider) serviceProvider(relyingPartyID string) *saml2.SAMLServiceProvider {
	return &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      p.descriptor.Endpoint,
		IdentityProviderIssuer:      p.descriptor.IdentityProviderID,
		ServiceProviderIssuer:       relyingPartyID,
		AssertionConsumerServiceURL: p.descriptor.CallbackURL,
		AudienceURI:                 relyingPartyID,
		IDPCertificateStore:         p.certStore,
	}
}

// AuthorizationURL builds the IdP redirect with a deflated AuthnRequest
// and the correlation token as RelayState.
func (p *SAMLProvider) AuthorizationURL(relyingPartyID, state string) (string, error) {
	sp := p.serviceProvider(relyingPartyID)
	authURL, err := sp.BuildAuthURL(state)
	if err != nil {
		return "", fmt.Errorf("failed to build auth URL: %w", err)
	}
	return authURL, nil
}

// Validate verifies the SAML response signature, time window, and audience.
func (p *SAMLProvider) Validate(ctx context.Context, rawToken string, rp RelyingParty) (*Assertion, error) {
	if _, err := base64.StdEncoding.DecodeString(rawToken); err != nil {
		return nil, NewFlowError(CodeMalformedToken, fmt.Errorf("SAMLResponse is not base64: %w", err))
	}

	sp := p.serviceProvider(rp.ID)
	info, err := sp.RetrieveAssertionInfo(rawToken)
	if err != nil {
		return nil, NewFlowError(CodeUntrustedSignature, fmt.Errorf("failed to validate assertion: %w", err))
	}

	if info.WarningInfo != nil {
		if info.WarningInfo.InvalidTime {
			return nil, FlowErrorf(CodeExpired, "assertion time window invalid")
		}
		if info.WarningInfo.NotInAudience {
			return nil, FlowErrorf(CodeAudienceMismatch,
				"assertion not addressed to relying party %q", rp.ID)
		}
	}

	assertion := &Assertion{
		Provider:   p.descriptor,
		Subject:    info.NameID,
		Issuer:     p.descriptor.IdentityProviderID,
		Audience:   rp.ID,
		Attributes: make(map[string][]string),
	}
	if info.AuthnInstant != nil {
		assertion.IssuedAt = *info.AuthnInstant
	}
	if info.SessionNotOnOrAfter != nil {
		assertion.ExpiresAt = *info.SessionNotOnOrAfter
	}

	for _, attr := range info.Values {
		for _, value := range attr.Values {
			assertion.Attributes[attr.Name] = append(assertion.Attributes[attr.Name], value.Value)
		}
	}

	return assertion, nil
}
