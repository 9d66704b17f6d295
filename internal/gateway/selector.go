package gateway

import (
	"context"
	"strings"
)

// Selection describes the operation being routed.
type Selection struct {
	TenantID  string
	Operation Operation
	Currency  string
}

// ProviderSelector picks a provider when the caller names none.
// An empty result defers to the configured default.
type ProviderSelector interface {
	SelectProvider(ctx context.Context, sel Selection) string
}

// ProviderSelectorFunc adapts a function to ProviderSelector.
type ProviderSelectorFunc func(ctx context.Context, sel Selection) string

func (f ProviderSelectorFunc) SelectProvider(ctx context.Context, sel Selection) string {
	return f(ctx, sel)
}

// CurrencySelector routes by currency code.
type CurrencySelector map[string]string

func (s CurrencySelector) SelectProvider(_ context.Context, sel Selection) string {
	return s[strings.ToUpper(sel.Currency)]
}
