package federation

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/fedgate/pkg/correlation"
)

func resolvedFor(p Provider, service string) *Resolved {
	return &Resolved{
		Provider: p,
		Snapshot: &correlation.Snapshot{Service: service, Provider: p.Name()},
	}
}

func TestValidateBuildsCredential(t *testing.T) {
	fx := newFlowFixture(t, openRegistry())
	p := newFakeProvider("adfs")

	r := httptest.NewRequest("POST", "/login?token=xyz", nil)
	credential, err := fx.validator.Validate(context.Background(), r, resolvedFor(p, ""))
	require.NoError(t, err)

	assert.Equal(t, "jdoe", credential.Principal)
	assert.Equal(t, "adfs", credential.Provider)
	assert.Equal(t, []string{"jdoe@example.com"}, credential.Attributes["mail"])
}

func TestValidateMissingToken(t *testing.T) {
	fx := newFlowFixture(t, openRegistry())
	p := newFakeProvider("adfs")

	r := httptest.NewRequest("POST", "/login", nil)
	_, err := fx.validator.Validate(context.Background(), r, resolvedFor(p, ""))

	assert.Equal(t, CodeMissingToken, CodeOf(err))
}

func TestValidatePropagatesProviderRejection(t *testing.T) {
	fx := newFlowFixture(t, openRegistry())
	p := newFakeProvider("adfs")
	p.validateErr = FlowErrorf(CodeUntrustedSignature, "bad signature")

	r := httptest.NewRequest("POST", "/login?token=xyz", nil)
	_, err := fx.validator.Validate(context.Background(), r, resolvedFor(p, ""))

	assert.Equal(t, CodeUntrustedSignature, CodeOf(err))
	assert.Empty(t, RetryURLOf(err))
}

func TestValidateExpiredGetsRetryURL(t *testing.T) {
	fx := newFlowFixture(t, openRegistry())
	p := newFakeProvider("adfs")
	p.validateErr = FlowErrorf(CodeExpired, "assertion expired")

	r := httptest.NewRequest("POST", "/login?token=xyz", nil)
	_, err := fx.validator.Validate(context.Background(), r, resolvedFor(p, "https://app.example.com"))

	assert.Equal(t, CodeExpired, CodeOf(err))
	retryURL := RetryURLOf(err)
	require.NotEmpty(t, retryURL)
	assert.True(t, strings.HasPrefix(retryURL, "https://idp.example.com/adfs/ls/"))

	// The retry redirect carries a fresh, live snapshot.
	n, err := fx.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestValidateAudienceMismatchGetsRetryURL(t *testing.T) {
	fx := newFlowFixture(t, openRegistry())
	p := newFakeProvider("adfs")
	p.validateErr = FlowErrorf(CodeAudienceMismatch, "wrong audience")

	r := httptest.NewRequest("POST", "/login?token=xyz", nil)
	_, err := fx.validator.Validate(context.Background(), r, resolvedFor(p, ""))

	assert.Equal(t, CodeAudienceMismatch, CodeOf(err))
	assert.NotEmpty(t, RetryURLOf(err))
}

func TestValidateRetryBuildFailureKeepsOriginalError(t *testing.T) {
	fx := newFlowFixture(t, openRegistry())
	p := newFakeProvider("adfs")
	p.validateErr = FlowErrorf(CodeExpired, "assertion expired")
	p.authErr = assert.AnError

	r := httptest.NewRequest("POST", "/login?token=xyz", nil)
	_, err := fx.validator.Validate(context.Background(), r, resolvedFor(p, ""))

	assert.Equal(t, CodeExpired, CodeOf(err))
	assert.Empty(t, RetryURLOf(err))
}

func TestValidateAppliesAttributeTransform(t *testing.T) {
	fx := newFlowFixture(t, openRegistry())
	p := newFakeProvider("adfs")
	p.descriptor.AttributeTransform = "lowercase-keys"
	p.assertion = &Assertion{
		Provider:   p.descriptor,
		Subject:    "jdoe",
		ExpiresAt:  time.Now().Add(time.Hour),
		Attributes: map[string][]string{"Mail": {"jdoe@example.com"}},
	}

	r := httptest.NewRequest("POST", "/login?token=xyz", nil)
	credential, err := fx.validator.Validate(context.Background(), r, resolvedFor(p, ""))
	require.NoError(t, err)

	assert.Equal(t, []string{"jdoe@example.com"}, credential.Attributes["mail"])
	assert.NotContains(t, credential.Attributes, "Mail")
}

func TestValidateUnknownTransformFails(t *testing.T) {
	fx := newFlowFixture(t, openRegistry())
	p := newFakeProvider("adfs")
	p.descriptor.AttributeTransform = "no-such-transform"

	r := httptest.NewRequest("POST", "/login?token=xyz", nil)
	_, err := fx.validator.Validate(context.Background(), r, resolvedFor(p, ""))

	require.Error(t, err)
	// A misconfigured transform is not one of the flow's rejection codes.
	assert.Empty(t, CodeOf(err))
}

func TestCheckProviderTransforms(t *testing.T) {
	fx := newFlowFixture(t, openRegistry())

	good := newFakeProvider("adfs")
	good.descriptor.AttributeTransform = "lowercase-keys"
	plain := newFakeProvider("okta")
	assert.NoError(t, fx.validator.CheckProviderTransforms([]Provider{good, plain}))

	bad := newFakeProvider("shibboleth")
	bad.descriptor.AttributeTransform = "no-such-transform"
	err := fx.validator.CheckProviderTransforms([]Provider{good, bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-transform")
}

func TestValidatePrincipalAttributeSelection(t *testing.T) {
	fx := newFlowFixture(t, openRegistry())
	p := newFakeProvider("adfs")
	p.descriptor.PrincipalAttribute = "upn"
	p.assertion = &Assertion{
		Provider:  p.descriptor,
		Subject:   "opaque-nameid",
		ExpiresAt: time.Now().Add(time.Hour),
		Attributes: map[string][]string{
			"upn": {"jdoe@corp.example.com"},
		},
	}

	r := httptest.NewRequest("POST", "/login?token=xyz", nil)
	credential, err := fx.validator.Validate(context.Background(), r, resolvedFor(p, ""))
	require.NoError(t, err)

	assert.Equal(t, "jdoe@corp.example.com", credential.Principal)
}

func TestValidatePrincipalFallsBackToSubject(t *testing.T) {
	fx := newFlowFixture(t, openRegistry())
	p := newFakeProvider("adfs")
	p.descriptor.PrincipalAttribute = "upn"
	p.assertion = &Assertion{
		Provider:   p.descriptor,
		Subject:    "jdoe",
		ExpiresAt:  time.Now().Add(time.Hour),
		Attributes: map[string][]string{},
	}

	r := httptest.NewRequest("POST", "/login?token=xyz", nil)
	credential, err := fx.validator.Validate(context.Background(), r, resolvedFor(p, ""))
	require.NoError(t, err)

	assert.Equal(t, "jdoe", credential.Principal)
}

func TestValidateNoPrincipalFails(t *testing.T) {
	fx := newFlowFixture(t, openRegistry())
	p := newFakeProvider("adfs")
	p.assertion = &Assertion{
		Provider:   p.descriptor,
		ExpiresAt:  time.Now().Add(time.Hour),
		Attributes: map[string][]string{},
	}

	r := httptest.NewRequest("POST", "/login?token=xyz", nil)
	_, err := fx.validator.Validate(context.Background(), r, resolvedFor(p, ""))

	assert.Equal(t, CodeMalformedToken, CodeOf(err))
}
