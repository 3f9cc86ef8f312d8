package authz

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEveryAppKindHasPolicy(t *testing.T) {
	for _, k := range AppKinds {
		t.Run(k.String(), func(t *testing.T) {
			assert.NotNil(t, k.Policy())
			parsed, ok := ParseAppKind(k.String())
			assert.True(t, ok)
			assert.Equal(t, k, parsed)
		})
	}
	assert.Nil(t, AppUnknown.Policy())
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		role, app  string
		access     []string
		wantCode   RejectCode
		wantReason string
	}{
		{name: "admin bypasses app", role: "Admin", app: "nonsense", access: []string{"anything"}},
		{name: "bad role", role: "guest", app: "main", wantCode: CodeInvalidRole, wantReason: "Access denied: Invalid role 'guest'."},
		{name: "empty role", role: "", app: "main", wantCode: CodeInvalidRole, wantReason: "Access denied: Invalid role ''."},
		{name: "bad app", role: "user", app: "Billing", wantCode: CodeInvalidApp, wantReason: "Access denied: Invalid app 'billing'."},
		{name: "main whitelist", role: "user", app: "MAIN", access: []string{"ISBN", "Printing & Delivery", "Authors Edit"}},
		{name: "main empty access", role: "user", app: "main", access: nil},
		{name: "main one bad entry", role: "user", app: "main", access: []string{"ISBN", "Root"}, wantCode: CodeInvalidAccess, wantReason: "Invalid access for main app: ISBN, Root"},
		{name: "main case sensitive", role: "user", app: "main", access: []string{"isbn"}, wantCode: CodeInvalidAccess, wantReason: "Invalid access for main app: isbn"},
		{name: "operations one role", role: "user", app: "operations", access: []string{"proofreader"}},
		{name: "operations two roles", role: "user", app: "operations", access: []string{"writer", "formatter"}, wantCode: CodeInvalidAccess, wantReason: "Invalid access for operations app: writer, formatter"},
		{name: "operations none", role: "user", app: "operations", wantCode: CodeInvalidAccess, wantReason: "Invalid access for operations app: "},
		{name: "ijisem full access", role: "user", app: "ijisem", access: []string{"Full Access"}},
		{name: "ijisem other", role: "user", app: "ijisem", access: []string{"Read"}, wantCode: CodeInvalidAccess, wantReason: "Invalid access for IJISEM app: Read"},
		{name: "ijisem extra", role: "user", app: "ijisem", access: []string{"Full Access", "Read"}, wantCode: CodeInvalidAccess, wantReason: "Invalid access for IJISEM app: Full Access, Read"},
		{name: "tasks unconstrained", role: "user", app: "tasks", access: []string{"whatever"}},
		{name: "sales unconstrained", role: "user", app: "sales"},
		{name: "clone unconstrained", role: "user", app: "clone", access: []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, code, reason := Evaluate(tt.role, tt.app, tt.access)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestAdminSkipsEveryAppRule(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		app := rapid.String().Draw(t, "app")
		access := rapid.SliceOf(rapid.String()).Draw(t, "access")

		g, code, _ := Evaluate("admin", app, access)
		if code != "" {
			t.Fatalf("admin rejected with %s", code)
		}
		if g.Role != RoleAdmin {
			t.Fatalf("role = %q", g.Role)
		}
	})
}

func TestOperationsExactlyOne(t *testing.T) {
	valid := map[string]bool{}
	for _, r := range OperationsRoles {
		valid[r] = true
	}
	pool := append(append([]string{}, OperationsRoles...), "editor", "", "Writer")

	rapid.Check(t, func(t *rapid.T) {
		access := rapid.SliceOfN(rapid.SampledFrom(pool), 0, 4).Draw(t, "access")

		_, code, _ := Evaluate("user", "operations", access)
		want := len(access) == 1 && valid[access[0]]
		if got := code == ""; got != want {
			t.Fatalf("access %q: allowed=%v, want %v", access, got, want)
		}
	})
}

func TestAccessListDecoding(t *testing.T) {
	tests := []struct {
		raw  string
		want AccessList
	}{
		{`"writer"`, AccessList{"writer"}},
		{`""`, AccessList{}},
		{`["ISBN","Payment"]`, AccessList{"ISBN", "Payment"}},
		{`[]`, AccessList{}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var got AccessList
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &got))
			assert.Equal(t, tt.want, got)
		})
	}

	var bad AccessList
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &bad))
}
