package authkit

import (
	"context"
	"fmt"
)

// AuthMethod is a pluggable first-factor strategy. Custom methods are
// registered on the builder and dispatched by Engine.SignInWith; they
// run before the engine's second-factor handling, so a method that
// returns StatusSignedIn must have fully authenticated the principal.
type AuthMethod interface {
	Name() string
	SignIn(ctx context.Context, req SignInRequest) (*SignInResult, error)
}

// methodRegistry maps method names to implementations. It is populated
// during Build and frozen afterwards; lookups after freeze need no
// locking.
type methodRegistry struct {
	methods map[string]AuthMethod
	frozen  bool
}

func newMethodRegistry() *methodRegistry {
	return &methodRegistry{methods: make(map[string]AuthMethod)}
}

func (r *methodRegistry) register(m AuthMethod) error {
	if r.frozen {
		return fmt.Errorf("%w: method registry is frozen", ErrConfigInvalid)
	}
	name := m.Name()
	if name == "" {
		return fmt.Errorf("%w: auth method has empty name", ErrConfigInvalid)
	}
	if _, exists := r.methods[name]; exists {
		return fmt.Errorf("%w: duplicate auth method %q", ErrConfigInvalid, name)
	}
	r.methods[name] = m
	return nil
}

func (r *methodRegistry) freeze() { r.frozen = true }

func (r *methodRegistry) get(name string) (AuthMethod, bool) {
	m, ok := r.methods[name]
	return m, ok
}

// passwordMethod adapts the engine's password flow to the AuthMethod
// interface.
type passwordMethod struct{ e *Engine }

func (passwordMethod) Name() string { return "password" }

func (m passwordMethod) SignIn(ctx context.Context, req SignInRequest) (*SignInResult, error) {
	return m.e.SignInWithPassword(ctx, req)
}

// SignInWith dispatches to a registered first-factor method by name.
func (e *Engine) SignInWith(ctx context.Context, method string, req SignInRequest) (*SignInResult, error) {
	m, ok := e.methods.get(method)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return m.SignIn(ctx, req)
}
