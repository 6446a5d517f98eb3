package federation

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// WS-Federation protocol parameter names.
const (
	wsfedParamAction = "wa"
	wsfedParamResult = "wresult"
	wsfedParamCtx    = "wctx"
	wsfedSignIn      = "wsignin1.0"
)

const wsfedQueryString = "?wa=wsignin1.0&wtrealm=%s&wctx=%s"

// WsFedProvider implements WS-Federation passive requestor sign-in. The
// wresult parameter carries a RequestSecurityTokenResponse wrapping a
// signed SAML assertion.
type WsFedProvider struct {
	descriptor *Descriptor
	certStore  *dsig.MemoryX509CertificateStore
}

// NewWsFedProvider creates a WS-Federation provider, parsing the
// descriptor's PEM trust material.
func NewWsFedProvider(d *Descriptor) (*WsFedProvider, error) {
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

	return &WsFedProvider{
		descriptor: d,
		certStore:  &dsig.MemoryX509CertificateStore{Roots: roots},
	}, nil
}

// Name returns the provider instance name.
func (p *WsFedProvider) Name() string { return p.descriptor.Name }

// Kind returns KindWsFed.
func (p *WsFedProvider) Kind() Kind { return KindWsFed }

// Descriptor returns the provider configuration.
func (p *WsFedProvider) Descriptor() *Descriptor { return p.descriptor }

// IsCallback reports whether the request is a WS-Federation sign-in return.
// Routing keys off the wa action alone so that a return with a blank or
// missing wresult still reaches the flow and fails there, instead of being
// mistaken for a fresh login request.
func (p *WsFedProvider) IsCallback(r *http.Request) bool {
	return strings.EqualFold(r.FormValue(wsfedParamAction), wsfedSignIn)
}

// ExtractState returns the wctx parameter.
func (p *WsFedProvider) ExtractState(r *http.Request) string {
	return r.FormValue(wsfedParamCtx)
}

// ExtractToken returns the wresult parameter.
func (p *WsFedProvider) ExtractToken(r *http.Request) string {
	return r.FormValue(wsfedParamResult)
}

// AuthorizationURL builds the IdP sign-in URL with the relying party as
// wtrealm and the correlation token as wctx.
func (p *WsFedProvider) AuthorizationURL(relyingPartyID, state string) (string, error) {
	return p.descriptor.Endpoint + fmt.Sprintf(wsfedQueryString,
		url.QueryEscape(relyingPartyID), url.QueryEscape(state)), nil
}

// Validate parses the RequestSecurityTokenResponse, verifies the embedded
// assertion's signature against the configured trust material, and checks
// the time window and audience against the relying party.
func (p *WsFedProvider) Validate(ctx context.Context, rawToken string, rp RelyingParty) (*Assertion, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(rawToken); err != nil {
		return nil, NewFlowError(CodeMalformedToken, fmt.Errorf("cannot parse wresult: %w", err))
	}

	assertionEl := doc.FindElement("//Assertion")
	if assertionEl == nil {
		return nil, FlowErrorf(CodeMalformedToken, "no assertion in requested security token")
	}

	validationCtx := dsig.NewDefaultValidationContext(p.certStore)
	validated, err := validationCtx.Validate(assertionEl)
	if err != nil {
		return nil, NewFlowError(CodeUntrustedSignature, fmt.Errorf("assertion signature invalid: %w", err))
	}

	assertion, err := p.buildAssertion(validated)
	if err != nil {
		return nil, err
	}

	tolerance := rp.Tolerance
	if tolerance <= 0 {
		tolerance = p.descriptor.ToleranceOrDefault()
	}
	now := time.Now()
	if !assertion.IssuedAt.IsZero() && now.Add(tolerance).Before(assertion.IssuedAt) {
		return nil, FlowErrorf(CodeExpired, "assertion not yet valid (NotBefore %s)", assertion.IssuedAt)
	}
	if !assertion.ExpiresAt.IsZero() && now.After(assertion.ExpiresAt.Add(tolerance)) {
		return nil, FlowErrorf(CodeExpired, "assertion expired at %s", assertion.ExpiresAt)
	}

	if assertion.Audience != rp.ID {
		return nil, FlowErrorf(CodeAudienceMismatch,
			"assertion audience %q does not match relying party %q", assertion.Audience, rp.ID)
	}
	if p.descriptor.IdentityProviderID != "" && assertion.Issuer != p.descriptor.IdentityProviderID {
		return nil, FlowErrorf(CodeAudienceMismatch,
			"assertion issuer %q does not match identity provider %q",
			assertion.Issuer, p.descriptor.IdentityProviderID)
	}

	return assertion, nil
}

// buildAssertion extracts the normalized claims from a signature-validated
// assertion element.
func (p *WsFedProvider) buildAssertion(el *etree.Element) (*Assertion, error) {
	assertion := &Assertion{
		Provider:   p.descriptor,
		Attributes: make(map[string][]string),
	}

	if issuer := el.FindElement("./Issuer"); issuer != nil {
		assertion.Issuer = strings.TrimSpace(issuer.Text())
	}
	if nameID := el.FindElement("./Subject/NameID"); nameID != nil {
		assertion.Subject = strings.TrimSpace(nameID.Text())
	}

	conditions := el.FindElement("./Conditions")
	if conditions == nil {
		return nil, FlowErrorf(CodeMalformedToken, "assertion has no conditions")
	}
	var err error
	if nb := conditions.SelectAttrValue("NotBefore", ""); nb != "" {
		if assertion.IssuedAt, err = time.Parse(time.RFC3339, nb); err != nil {
			return nil, NewFlowError(CodeMalformedToken, fmt.Errorf("bad NotBefore: %w", err))
		}
	}
	if noa := conditions.SelectAttrValue("NotOnOrAfter", ""); noa != "" {
		if assertion.ExpiresAt, err = time.Parse(time.RFC3339, noa); err != nil {
			return nil, NewFlowError(CodeMalformedToken, fmt.Errorf("bad NotOnOrAfter: %w", err))
		}
	}
	if audience := conditions.FindElement("./AudienceRestriction/Audience"); audience != nil {
		assertion.Audience = strings.TrimSpace(audience.Text())
	}

	for _, attr := range el.FindElements("./AttributeStatement/Attribute") {
		name := attr.SelectAttrValue("Name", "")
		if name == "" {
			continue
		}
		for _, value := range attr.FindElements("./AttributeValue") {
			assertion.Attributes[name] = append(assertion.Attributes[name], strings.TrimSpace(value.Text()))
		}
	}

	return assertion, nil
}
