package endpoint

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/R3E-Network/ajax_layer/internal/app/auth"
	"github.com/R3E-Network/ajax_layer/internal/config"
	apperrors "github.com/R3E-Network/ajax_layer/internal/errors"
)

// Registry holds endpoint definitions keyed by lower-cased name.
type Registry struct {
	mu        sync.RWMutex
	defs      map[string]Definition
	env       *Env
	overrides *config.EndpointOverrides
}

// NewRegistry returns an empty registry. overrides may be nil.
func NewRegistry(env *Env, overrides *config.EndpointOverrides) *Registry {
	return &Registry{defs: make(map[string]Definition), env: env, overrides: overrides}
}

// Register adds def. Model definitions get the configured overrides applied
// and their encoder registered.
func (r *Registry) Register(def Definition) error {
	key := strings.ToLower(def.Name())
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[key]; exists {
		return fmt.Errorf("endpoint %s: %w", def.Name(), apperrors.ErrAlreadyRegistered)
	}
	if md, ok := def.(*ModelDefinition); ok {
		md = r.applyOverrides(md)
		def = md
		if md.Encoder != nil && r.env != nil && r.env.Encoders != nil {
			if err := r.env.Encoders.Register(md.Model, md.Encoder); err != nil {
				return fmt.Errorf("encoder %s: %w", def.Name(), err)
			}
		}
	}
	r.defs[key] = def
	return nil
}

// applyOverrides returns md with the configured overrides applied. The
// caller's definition is never modified; a copy is made when there is
// anything to override.
func (r *Registry) applyOverrides(md *ModelDefinition) *ModelDefinition {
	o := r.overrides.For(md.Name())
	if o == nil {
		return md
	}
	cp := *md
	if o.MaxPerPage != nil {
		cp.MaxPerPage = *o.MaxPerPage
	}
	cp.ImmutableFields = append(slices.Clone(md.ImmutableFields), o.ImmutableFields...)
	if o.List != nil {
		allowed := *o.List
		cp.CanList = func(auth.User) bool { return allowed }
	}
	return &cp
}

// Unregister removes the definition named name.
func (r *Registry) Unregister(name string) error {
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	def, exists := r.defs[key]
	if !exists {
		return fmt.Errorf("endpoint %s: %w", name, apperrors.ErrNotRegistered)
	}
	if md, ok := def.(*ModelDefinition); ok && md.Encoder != nil && r.env != nil && r.env.Encoders != nil {
		_ = r.env.Encoders.Unregister(md.Model)
	}
	delete(r.defs, key)
	return nil
}

// Load binds the definition registered under name to application and method.
func (r *Registry) Load(name, application, method string) (Endpoint, error) {
	r.mu.RLock()
	def, ok := r.defs[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("endpoint %s: %w", name, apperrors.ErrNotRegistered)
	}
	return def.Bind(r.env, application, method), nil
}

// Names lists the registered definition keys, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for k := range r.defs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
