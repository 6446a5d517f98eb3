package federation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWsFedDescriptor(t *testing.T) Descriptor {
	t.Helper()
	return Descriptor{
		Name:           "adfs",
		Kind:           KindWsFed,
		Endpoint:       "https://idp.example.com/adfs/ls/",
		RelyingPartyID: "urn:federation:fedgate",
		Certificates:   []string{newSelfSignedCertPEM(t)},
	}
}

func TestDescriptorValidate(t *testing.T) {
	d := validWsFedDescriptor(t)
	assert.NoError(t, d.Validate())
}

func TestDescriptorValidateMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Descriptor)
	}{
		{"missing name", func(d *Descriptor) { d.Name = "" }},
		{"missing endpoint", func(d *Descriptor) { d.Endpoint = "" }},
		{"missing relying party", func(d *Descriptor) { d.RelyingPartyID = "" }},
		{"missing certificates", func(d *Descriptor) { d.Certificates = nil }},
		{"unknown kind", func(d *Descriptor) { d.Kind = "kerberos" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validWsFedDescriptor(t)
			tt.mutate(&d)
			assert.Error(t, d.Validate())
		})
	}
}

func TestDescriptorValidateOAuth2(t *testing.T) {
	d := Descriptor{
		Name:           "github",
		Kind:           KindOAuth2,
		Endpoint:       "https://github.example.com/login/oauth/authorize",
		RelyingPartyID: "fedgate",
		ClientID:       "client",
		ClientSecret:   "secret",
		TokenURL:       "https://github.example.com/login/oauth/access_token",
		UserInfoURL:    "https://github.example.com/api/user",
	}
	require.NoError(t, d.Validate())

	d.UserInfoURL = ""
	assert.Error(t, d.Validate())
}

func TestDescriptorValidateOIDC(t *testing.T) {
	d := Descriptor{
		Name:               "okta",
		Kind:               KindOIDC,
		Endpoint:           "https://okta.example.com/oauth2/v1/authorize",
		RelyingPartyID:     "fedgate",
		IdentityProviderID: "https://okta.example.com",
		ClientID:           "client",
		ClientSecret:       "secret",
	}
	require.NoError(t, d.Validate())

	d.IdentityProviderID = ""
	assert.Error(t, d.Validate())
}

func TestToleranceOrDefault(t *testing.T) {
	d := validWsFedDescriptor(t)
	assert.Equal(t, DefaultTolerance, d.ToleranceOrDefault())

	d.Tolerance = 30 * time.Second
	assert.Equal(t, 30*time.Second, d.ToleranceOrDefault())
}

func TestBuiltinLowercaseKeysTransform(t *testing.T) {
	transform := builtinTransforms()["lowercase-keys"]
	require.NotNil(t, transform)

	out := transform(map[string][]string{
		"Mail":        {"jdoe@example.com"},
		"DisplayName": {"J. Doe"},
	})

	assert.Equal(t, []string{"jdoe@example.com"}, out["mail"])
	assert.Equal(t, []string{"J. Doe"}, out["displayname"])
	assert.NotContains(t, out, "Mail")
}
