package endpoint

import (
	"sort"
	"strings"
	"sync"

	"github.com/R3E-Network/ajax_layer/internal/config"
)

// Application is a named group of ad-hoc endpoints. Model endpoints are
// reachable under every application.
type Application struct {
	Name string

	mu    sync.RWMutex
	adhoc map[string]Operation
}

// Handle registers op as the ad-hoc endpoint name.
func (a *Application) Handle(name string, op Operation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adhoc[name] = op
}

// AdHoc returns the ad-hoc endpoint name.
func (a *Application) AdHoc(name string) (Operation, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	op, ok := a.adhoc[name]
	return op, ok
}

// Site is everything the HTTP layer serves: applications, the endpoint
// registry and the shared environment.
type Site struct {
	Env       *Env
	Endpoints *Registry

	mu   sync.RWMutex
	apps map[string]*Application
}

// NewSite returns a site over env. overrides may be nil.
func NewSite(env *Env, overrides *config.EndpointOverrides) *Site {
	return &Site{
		Env:       env,
		Endpoints: NewRegistry(env, overrides),
		apps:      make(map[string]*Application),
	}
}

// Application returns the application called name, creating it if needed.
func (s *Site) Application(name string) *Application {
	key := strings.ToLower(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if app, ok := s.apps[key]; ok {
		return app
	}
	app := &Application{Name: key, adhoc: make(map[string]Operation)}
	s.apps[key] = app
	return app
}

// Lookup returns an existing application.
func (s *Site) Lookup(name string) (*Application, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[strings.ToLower(name)]
	return app, ok
}

// Applications lists application names, sorted.
func (s *Site) Applications() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.apps))
	for name := range s.apps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
