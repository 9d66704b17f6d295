package gateway

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// RegistryBuilder collects gateway registrations during startup.
type RegistryBuilder struct {
	gateways map[string]Gateway
	errs     []error
}

// NewRegistryBuilder returns an empty builder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{gateways: make(map[string]Gateway)}
}

// Register adds a gateway under a provider name. Errors surface from Build.
func (b *RegistryBuilder) Register(provider string, gw Gateway) *RegistryBuilder {
	name := normalizeProvider(provider)
	switch {
	case name == "":
		b.errs = append(b.errs, errors.New("gateway: empty provider name"))
	case gw == nil:
		b.errs = append(b.errs, fmt.Errorf("gateway: nil gateway for %s", name))
	default:
		if _, exists := b.gateways[name]; exists {
			b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrDuplicateProvider, name))
			break
		}
		b.gateways[name] = gw
	}
	return b
}

// Build freezes the registrations. The builder must not be reused afterwards.
func (b *RegistryBuilder) Build() (*Registry, error) {
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	frozen := make(map[string]Gateway, len(b.gateways))
	for name, gw := range b.gateways {
		frozen[name] = gw
	}
	return &Registry{gateways: frozen}, nil
}

// Registry is an immutable provider -> gateway table, safe for concurrent reads.
type Registry struct {
	gateways map[string]Gateway
}

// Get resolves a provider name.
func (r *Registry) Get(provider string) (Gateway, error) {
	name := normalizeProvider(provider)
	if r != nil {
		if gw, ok := r.gateways[name]; ok {
			return gw, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrGatewayNotFound, provider)
}

// Has reports whether a provider is registered.
func (r *Registry) Has(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.gateways[normalizeProvider(provider)]
	return ok
}

// Providers lists registered names in sorted order.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
