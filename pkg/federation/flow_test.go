package federation

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/fedgate/pkg/correlation"
	"github.com/platinummonkey/fedgate/pkg/observability"
	"github.com/platinummonkey/fedgate/pkg/registry"
)

// fakeProvider is a scriptable Provider for exercising the flow components
// without any real protocol plumbing.
type fakeProvider struct {
	descriptor  *Descriptor
	authURL     string
	authErr     error
	assertion   *Assertion
	validateErr error

	// parameter names the fake reads from requests
	stateParam string
	tokenParam string
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		descriptor: &Descriptor{
			Name:           name,
			Kind:           KindWsFed,
			Endpoint:       "https://idp.example.com/adfs/ls/",
			RelyingPartyID: "urn:federation:fedgate",
		},
		authURL:    "https://idp.example.com/adfs/ls/?signin=1",
		stateParam: "state",
		tokenParam: "token",
	}
}

func (f *fakeProvider) Name() string            { return f.descriptor.Name }
func (f *fakeProvider) Kind() Kind              { return f.descriptor.Kind }
func (f *fakeProvider) Descriptor() *Descriptor { return f.descriptor }

func (f *fakeProvider) IsCallback(r *http.Request) bool {
	return r.FormValue(f.stateParam) != "" || r.FormValue(f.tokenParam) != ""
}

func (f *fakeProvider) ExtractState(r *http.Request) string {
	return r.FormValue(f.stateParam)
}

func (f *fakeProvider) ExtractToken(r *http.Request) string {
	return r.FormValue(f.tokenParam)
}

func (f *fakeProvider) AuthorizationURL(relyingPartyID, state string) (string, error) {
	if f.authErr != nil {
		return "", f.authErr
	}
	return f.authURL + "&wctx=" + state, nil
}

func (f *fakeProvider) Validate(ctx context.Context, rawToken string, rp RelyingParty) (*Assertion, error) {
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	if f.assertion != nil {
		return f.assertion, nil
	}
	return &Assertion{
		Provider:   f.descriptor,
		Subject:    "jdoe",
		Issuer:     "urn:example:idp",
		Audience:   rp.ID,
		IssuedAt:   time.Now().Add(-time.Minute),
		ExpiresAt:  time.Now().Add(time.Hour),
		Attributes: map[string][]string{"mail": {"jdoe@example.com"}},
	}, nil
}

// flowFixture bundles the wired flow components over an in-memory store.
type flowFixture struct {
	store     *correlation.MemoryStore
	registry  *registry.StaticRegistry
	metrics   *observability.Metrics
	logger    *observability.Logger
	initiator *Initiator
	validator *Validator
	outcome   *Outcome
}

func newFlowFixture(t *testing.T, regCfg registry.StaticRegistryConfig) *flowFixture {
	t.Helper()

	store := correlation.NewMemoryStore(time.Minute, nil)
	t.Cleanup(func() { store.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	reg := registry.NewStaticRegistry(regCfg)

	initiator := NewInitiator(store, reg, metrics, logger)
	validator := NewValidator(initiator, metrics, logger, nil)

	return &flowFixture{
		store:     store,
		registry:  reg,
		metrics:   metrics,
		logger:    logger,
		initiator: initiator,
		validator: validator,
	}
}

// resolverFor wires a CallbackResolver over the fixture's store for the
// given providers.
func (fx *flowFixture) resolverFor(t *testing.T, providers ...Provider) *CallbackResolver {
	t.Helper()
	set, err := NewProviderSetFrom(providers...)
	require.NoError(t, err)
	return NewCallbackResolver(fx.store, set, fx.metrics, fx.logger)
}

func openRegistry() registry.StaticRegistryConfig {
	return registry.StaticRegistryConfig{AllowUnregistered: true}
}

func newDenyAllRegistry() registry.StaticRegistryConfig {
	return registry.StaticRegistryConfig{}
}

// newSelfSignedCertPEM generates throwaway trust material for descriptor
// tests.
func newSelfSignedCertPEM(t *testing.T) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "idp.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}
