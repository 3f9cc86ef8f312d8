package authz

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the normalised (lower-case) role claimed by the verifier.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// AppKind is the closed set of applications a non-admin user may be scoped to.
type AppKind int

const (
	AppUnknown AppKind = iota
	AppMain
	AppOperations
	AppIJISEM
	AppTasks
	AppSales
	AppClone
)

// AppKinds lists every valid kind.
var AppKinds = []AppKind{AppMain, AppOperations, AppIJISEM, AppTasks, AppSales, AppClone}

// String returns the wire name of the app.
func (k AppKind) String() string {
	switch k {
	case AppMain:
		return "main"
	case AppOperations:
		return "operations"
	case AppIJISEM:
		return "ijisem"
	case AppTasks:
		return "tasks"
	case AppSales:
		return "sales"
	case AppClone:
		return "clone"
	default:
		return "unknown"
	}
}

// label is the name used in access rejection reasons.
func (k AppKind) label() string {
	if k == AppIJISEM {
		return "IJISEM"
	}
	return k.String()
}

// ParseAppKind maps a lower-case wire name to its kind.
func ParseAppKind(name string) (AppKind, bool) {
	for _, k := range AppKinds {
		if k.String() == name {
			return k, true
		}
	}
	return AppUnknown, false
}

// AccessPolicy decides whether an access list is acceptable for an app.
type AccessPolicy interface {
	Allows(access []string) bool
}

// Policy returns the access policy of k, nil for AppUnknown.
func (k AppKind) Policy() AccessPolicy {
	switch k {
	case AppMain:
		return mainCapabilities
	case AppOperations:
		return operationsRoles
	case AppIJISEM:
		return exactly{"Full Access"}
	case AppTasks, AppSales, AppClone:
		return unconstrained{}
	default:
		return nil
	}
}

// MainCapabilities is the whitelist for the main app.
var MainCapabilities = []string{
	"ISBN",
	"Payment",
	"Authors",
	"Operations",
	"Printing & Delivery",
	"DatadashBoard",
	"Advance Search",
	"Team Dashboard",
	"Print Management",
	"Inventory",
	"Open Author Positions",
	"Pending Work",
	"IJISEM",
	"Tasks",
	"Details",
	"Message",
	"Add Book",
	"Authors Edit",
}

// OperationsRoles are the operations app roles; a user holds exactly one.
var OperationsRoles = []string{"writer", "proofreader", "formatter", "cover_designer"}

var (
	mainCapabilities = newWhitelist(MainCapabilities)
	operationsRoles  = exactlyOneOf(newWhitelist(OperationsRoles))
)

// whitelist allows any list whose every entry is in the set, including the
// empty list.
type whitelist map[string]struct{}

func newWhitelist(items []string) whitelist {
	w := make(whitelist, len(items))
	for _, it := range items {
		w[it] = struct{}{}
	}
	return w
}

func (w whitelist) Allows(access []string) bool {
	for _, a := range access {
		if _, ok := w[a]; !ok {
			return false
		}
	}
	return true
}

// exactlyOneOf allows a single-entry list whose entry is in the set.
type exactlyOneOf whitelist

func (e exactlyOneOf) Allows(access []string) bool {
	if len(access) != 1 {
		return false
	}
	_, ok := e[access[0]]
	return ok
}

// exactly allows only a list equal to itself.
type exactly []string

func (e exactly) Allows(access []string) bool {
	if len(access) != len(e) {
		return false
	}
	for i := range e {
		if access[i] != e[i] {
			return false
		}
	}
	return true
}

type unconstrained struct{}

func (unconstrained) Allows([]string) bool { return true }

// AccessList decodes either a JSON array of strings or a single string. A
// non-empty string becomes a one-item list and "" becomes empty.
type AccessList []string

// UnmarshalJSON implements json.Unmarshaler.
func (a *AccessList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*a = AccessList{}
		} else {
			*a = AccessList{single}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("access: %w", err)
	}
	*a = list
	return nil
}

// Grant is the outcome of a policy evaluation.
type Grant struct {
	Role    Role
	App     AppKind
	AppName string
	Access  []string
}

// Evaluate applies the role, app and access rules in order. On failure it
// returns the rejection code and the human-readable reason.
func Evaluate(role, app string, access []string) (Grant, RejectCode, string) {
	g := Grant{
		Role:    Role(strings.ToLower(role)),
		AppName: strings.ToLower(app),
		Access:  append([]string(nil), access...),
	}
	g.App, _ = ParseAppKind(g.AppName)

	if !g.Role.Valid() {
		return g, CodeInvalidRole, fmt.Sprintf("Access denied: Invalid role '%s'.", g.Role)
	}
	if g.Role == RoleAdmin {
		return g, "", ""
	}
	if g.App == AppUnknown {
		return g, CodeInvalidApp, fmt.Sprintf("Access denied: Invalid app '%s'.", g.AppName)
	}
	if !g.App.Policy().Allows(g.Access) {
		return g, CodeInvalidAccess, fmt.Sprintf("Invalid access for %s app: %s", g.App.label(), strings.Join(g.Access, ", "))
	}
	return g, "", ""
}
