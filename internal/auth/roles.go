package auth

import "strings"

// Role is the operator tier carried in a bearer token.
type Role string

const (
	// RoleViewer reads transactions, batches and their exports.
	RoleViewer Role = "viewer"
	// RoleOperator moves money: charges, captures, refunds, voids and batch closes.
	RoleOperator Role = "operator"
	// RoleAdmin also reconciles and disputes settlement batches.
	RoleAdmin Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole maps a claim value to a known role, ignoring case and padding.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := roleRanks[role]; !ok {
		return "", false
	}
	return role, true
}

// RoleAtLeast reports whether role grants everything required grants.
// Unknown roles grant nothing.
func RoleAtLeast(role, required Role) bool {
	rank, ok := roleRanks[role]
	return ok && rank >= roleRanks[required]
}
