package auth

import (
	"net/http"
	"strings"
)

// RouteRule assigns roles to every path under Prefix. The first matching
// override wins over Read and Write.
type RouteRule struct {
	Prefix    string
	Read      Role
	Write     Role
	Overrides []RouteOverride
}

// RouteOverride raises or lowers the role for paths containing Match.
type RouteOverride struct {
	Match  string
	Method string
	Role   Role
}

// DefaultRules guards the payment and settlement APIs.
var DefaultRules = []RouteRule{
	{
		Prefix: "/api/v1/payments/",
		Read:   RoleViewer,
		Write:  RoleOperator,
	},
	{
		Prefix: "/api/v1/settlement/batches",
		Read:   RoleViewer,
		Write:  RoleAdmin,
		Overrides: []RouteOverride{
			{Match: "/export.", Method: http.MethodGet, Role: RoleOperator},
			{Match: "/close", Method: http.MethodPost, Role: RoleOperator},
		},
	},
	{
		Prefix: "/api/",
		Read:   RoleViewer,
		Write:  RoleOperator,
	},
}

// Policy decides which requests need a token and which role they need.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
	Rules          []RouteRule
}

// NewDefaultPolicy builds a policy over DefaultRules with the given exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes, Rules: DefaultRules}
}

// IsExempt reports requests that skip authentication, such as signed webhooks.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole returns the role the first matching rule demands.
// Unmatched paths need no role.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path
	for _, rule := range p.Rules {
		if !strings.HasPrefix(path, rule.Prefix) {
			continue
		}
		for _, o := range rule.Overrides {
			if (o.Method == "" || o.Method == r.Method) && strings.Contains(path, o.Match) {
				return o.Role, true
			}
		}
		if isRead(r.Method) {
			return rule.Read, true
		}
		return rule.Write, true
	}
	return "", false
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}
