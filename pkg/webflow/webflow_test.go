package webflow

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventConstructors(t *testing.T) {
	assert.Equal(t, EventSuccess, Success().ID)

	cause := errors.New("boom")
	errEvent := Error(cause)
	assert.Equal(t, EventError, errEvent.ID)
	assert.Equal(t, cause, errEvent.Err)

	redirect := Redirect("https://idp.example.com/login")
	assert.Equal(t, EventRedirect, redirect.ID)
	assert.Equal(t, "https://idp.example.com/login", redirect.RedirectURL)

	assert.Equal(t, EventProceed, Proceed().ID)
}

func TestScopePutGet(t *testing.T) {
	s := NewScope()

	assert.False(t, s.Has(AttrService))
	assert.Nil(t, s.Get(AttrService))
	assert.Equal(t, "", s.GetString(AttrService))

	s.Put(AttrService, "https://app.example.com")
	assert.True(t, s.Has(AttrService))
	assert.Equal(t, "https://app.example.com", s.GetString(AttrService))
}

func TestScopeGetStringNonString(t *testing.T) {
	s := NewScope()
	s.Put(AttrProviderList, []int{1, 2, 3})

	assert.True(t, s.Has(AttrProviderList))
	assert.Equal(t, "", s.GetString(AttrProviderList))
}

func TestScopeConcurrentAccess(t *testing.T) {
	s := NewScope()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Put(AttrTheme, "dark")
		}()
		go func() {
			defer wg.Done()
			s.GetString(AttrTheme)
		}()
	}
	wg.Wait()

	assert.Equal(t, "dark", s.GetString(AttrTheme))
}

func TestNewContextScopesAreIndependent(t *testing.T) {
	fc := NewContext()
	fc.RequestScope.Put(AttrTicket, "TGT-1")

	assert.False(t, fc.FlowScope.Has(AttrTicket))
	assert.Equal(t, "TGT-1", fc.RequestScope.GetString(AttrTicket))
}
