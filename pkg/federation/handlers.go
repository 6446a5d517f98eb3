package federation

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/fedgate/pkg/httputil"
	"github.com/platinummonkey/fedgate/pkg/observability"
	"github.com/platinummonkey/fedgate/pkg/webflow"
)

// Handler adapts the login flow to HTTP. Every request gets one flow
// execution and the resulting event is mapped to a response; failure
// responses are deliberately uniform so callers learn nothing about which
// validation stage rejected them.
type Handler struct {
	action *Action
	logger *observability.Logger
}

// NewHandler creates a Handler.
func NewHandler(action *Action, logger *observability.Logger) *Handler {
	return &Handler{action: action, logger: logger}
}

// RegisterRoutes mounts the login endpoints on the router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/login", h.Login).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/login/providers", h.ListProviders).Methods(http.MethodGet)
}

// Login runs one step of the federated login flow. WS-Federation and SAML
// providers POST their callbacks; everything else arrives as a GET.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteBadRequest(w, "malformed request")
		return
	}

	fc := webflow.NewContext()
	event := h.action.Execute(r.Context(), r, fc)

	switch event.ID {
	case webflow.EventRedirect:
		http.Redirect(w, r, event.RedirectURL, http.StatusFound)

	case webflow.EventSuccess:
		httputil.WriteSuccess(w, loginResponse{
			Ticket:  fc.RequestScope.GetString(webflow.AttrTicket),
			Service: fc.RequestScope.GetString(webflow.AttrService),
		})

	case webflow.EventProceed:
		views, _ := fc.FlowScope.Get(webflow.AttrProviderList).([]ProviderView)
		httputil.WriteSuccess(w, providerListResponse{Providers: views})

	default:
		// One body for every rejection: a caller probing with forged
		// callbacks cannot tell a bad signature from a stale token.
		httputil.WriteUnauthorized(w, "authentication failed")
	}
}

// ListProviders returns the configured providers and their local
// initiation URLs.
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	fc := webflow.NewContext()
	h.action.proceed(fc)
	views, _ := fc.FlowScope.Get(webflow.AttrProviderList).([]ProviderView)
	httputil.WriteSuccess(w, providerListResponse{Providers: views})
}

type loginResponse struct {
	Ticket  string `json:"ticket"`
	Service string `json:"service,omitempty"`
}

type providerListResponse struct {
	Providers []ProviderView `json:"providers"`
}
