package webhooks

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ProviderConfig is the per-provider intake behaviour.
type ProviderConfig struct {
	// SignatureHeader names the header carrying the signature. Matched case-insensitively.
	SignatureHeader string
	Secret          []byte
}

type provider struct {
	config  ProviderConfig
	handler Handler
}

// RegistryBuilder collects providers and handlers during startup.
type RegistryBuilder struct {
	providers map[string]ProviderConfig
	handlers  map[string]Handler
	errs      []error
}

// NewRegistryBuilder returns an empty builder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		providers: make(map[string]ProviderConfig),
		handlers:  make(map[string]Handler),
	}
}

// RegisterProvider declares a provider tag and its signature settings.
func (b *RegistryBuilder) RegisterProvider(name string, cfg ProviderConfig) *RegistryBuilder {
	key := normalize(name)
	switch {
	case key == "":
		b.errs = append(b.errs, errors.New("webhooks: empty provider name"))
	case strings.TrimSpace(cfg.SignatureHeader) == "":
		b.errs = append(b.errs, fmt.Errorf("webhooks: %s: empty signature header", key))
	default:
		if _, exists := b.providers[key]; exists {
			b.errs = append(b.errs, fmt.Errorf("%w: provider %s", ErrDuplicateProvider, key))
			break
		}
		cfg.Secret = append([]byte(nil), cfg.Secret...)
		b.providers[key] = cfg
	}
	return b
}

// RegisterHandler attaches the handler for a provider.
func (b *RegistryBuilder) RegisterHandler(name string, handler Handler) *RegistryBuilder {
	key := normalize(name)
	switch {
	case key == "":
		b.errs = append(b.errs, errors.New("webhooks: empty provider name"))
	case handler == nil:
		b.errs = append(b.errs, fmt.Errorf("webhooks: %s: nil handler", key))
	default:
		if _, exists := b.handlers[key]; exists {
			b.errs = append(b.errs, fmt.Errorf("%w: handler %s", ErrDuplicateProvider, key))
			break
		}
		b.handlers[key] = handler
	}
	return b
}

// Build freezes the registrations. Handlers for undeclared providers are rejected.
func (b *RegistryBuilder) Build() (*Registry, error) {
	for name := range b.handlers {
		if _, ok := b.providers[name]; !ok {
			b.errs = append(b.errs, fmt.Errorf("%w: handler for %s", ErrUnknownProvider, name))
		}
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	frozen := make(map[string]provider, len(b.providers))
	for name, cfg := range b.providers {
		frozen[name] = provider{config: cfg, handler: b.handlers[name]}
	}
	return &Registry{providers: frozen}, nil
}

// Registry is an immutable provider table, safe for concurrent reads.
type Registry struct {
	providers map[string]provider
}

func (r *Registry) lookup(name string) (string, provider, error) {
	key := normalize(name)
	if r == nil {
		return key, provider{}, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	p, ok := r.providers[key]
	if !ok {
		return key, provider{}, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return key, p, nil
}

// Known reports whether a provider tag is registered.
func (r *Registry) Known(name string) bool {
	_, _, err := r.lookup(name)
	return err == nil
}

// signature reads the configured header; http.Header.Get canonicalizes the name.
func (p provider) signature(headers http.Header) string {
	if headers == nil {
		return ""
	}
	if value := headers.Get(p.config.SignatureHeader); value != "" {
		return value
	}
	for name, values := range headers {
		if strings.EqualFold(name, p.config.SignatureHeader) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
