// Package webflow carries per-login flow state between the federation
// components and the surrounding request dispatch.
//
// A login attempt owns one Context. The request scope lives for a single
// HTTP exchange; the flow scope survives the redirect round-trip to the
// identity provider and back. Components communicate results exclusively
// through the closed event set (success, error, redirect, proceed) so the
// outer transition table never sees an unexpected outcome.
package webflow

import "sync"

// EventID identifies a flow transition.
type EventID string

const (
	EventSuccess  EventID = "success"
	EventError    EventID = "error"
	EventRedirect EventID = "redirect"
	// EventProceed signals that a provider-selection view should be
	// rendered from the flow scope.
	EventProceed EventID = "proceed"
)

// Well-known scope attribute keys.
const (
	AttrService      = "service"
	AttrTheme        = "theme"
	AttrLocale       = "locale"
	AttrMethod       = "method"
	AttrTicket       = "ticketGrantingTicket"
	AttrProviderURL  = "identityProviderURL"
	AttrProviderList = "providerList"
)

// Event is the single result type handed back to the workflow engine.
type Event struct {
	ID EventID

	// RedirectURL is set only for EventRedirect.
	RedirectURL string

	// Err carries the failure for EventError; nil otherwise.
	Err error
}

// Success builds a success event.
func Success() Event { return Event{ID: EventSuccess} }

// Error builds an error event wrapping the cause.
func Error(err error) Event { return Event{ID: EventError, Err: err} }

// Redirect builds a redirect event for the given URL.
func Redirect(url string) Event { return Event{ID: EventRedirect, RedirectURL: url} }

// Proceed builds a proceed event.
func Proceed() Event { return Event{ID: EventProceed} }

// Scope is a string-keyed attribute bag, safe for concurrent use.
type Scope struct {
	mu    sync.RWMutex
	attrs map[string]interface{}
}

// NewScope creates an empty scope.
func NewScope() *Scope {
	return &Scope{attrs: make(map[string]interface{})}
}

// Put stores a value under key.
func (s *Scope) Put(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[key] = value
}

// Get returns the value for key, or nil if absent.
func (s *Scope) Get(key string) interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attrs[key]
}

// GetString returns the string value for key, or "" if absent or not a
// string.
func (s *Scope) GetString(key string) string {
	if v, ok := s.Get(key).(string); ok {
		return v
	}
	return ""
}

// Has reports whether key is present.
func (s *Scope) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.attrs[key]
	return ok
}

// Context binds the two attribute scopes for one login attempt.
type Context struct {
	RequestScope *Scope
	FlowScope    *Scope
}

// NewContext creates a Context with fresh scopes.
func NewContext() *Context {
	return &Context{
		RequestScope: NewScope(),
		FlowScope:    NewScope(),
	}
}
