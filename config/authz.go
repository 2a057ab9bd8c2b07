package config

import (
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
)

type AuthzMode string

const (
	AuthzModeEnforce  AuthzMode = "enforce"
	AuthzModeShadow   AuthzMode = "shadow"
	AuthzModeDisabled AuthzMode = "disabled"
)

const authzModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && (p.act == "*" || r.act == p.act)
`

// DefaultAuthzPolicy lets admins do anything and everyone else read, plus the
// petty-cash workflows (hand loans, expenses, day closings) and the job uploads.
const DefaultAuthzPolicy = `
p, ADMIN, /api/*, *
p, USER, /api/*, GET
p, USER, /api/handloans*, POST
p, USER, /api/handloans/view*, PUT
p, USER, /api/expenses*, POST
p, USER, /api/expenses*, PUT
p, USER, /api/expenses*, PATCH
p, USER, /api/dayClosings*, POST
p, USER, /api/jobs/*, POST
g, MANAGER, USER
p, MANAGER, /api/employees*, *
p, MANAGER, /api/holidays*, *
p, MANAGER, /api/expenseTypeMasters*, *
p, MANAGER, /api/organizations*, *
`

func AuthzModeFromEnv() (AuthzMode, error) {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv("AUTHZ_MODE")))
	if raw == "" {
		return AuthzModeEnforce, nil
	}
	switch AuthzMode(raw) {
	case AuthzModeEnforce, AuthzModeShadow, AuthzModeDisabled:
		return AuthzMode(raw), nil
	default:
		return "", errors.New("authz: invalid AUTHZ_MODE (expected enforce|shadow|disabled)")
	}
}

type Authorizer struct {
	enforcer *casbin.Enforcer
	mode     AuthzMode
}

// NewAuthorizer loads the policy file at policyPath, or policy text when the path is empty.
func NewAuthorizer(policyPath string, policy string, mode AuthzMode) (*Authorizer, error) {
	m, err := model.NewModelFromString(authzModel)
	if err != nil {
		return nil, err
	}
	var enforcer *casbin.Enforcer
	if strings.TrimSpace(policyPath) != "" {
		enforcer, err = casbin.NewEnforcer(m, fileadapter.NewAdapter(policyPath))
	} else {
		enforcer, err = casbin.NewEnforcer(m, stringadapter.NewAdapter(policy))
	}
	if err != nil {
		return nil, err
	}
	return &Authorizer{enforcer: enforcer, mode: mode}, nil
}

// SubjectFromRole maps upstream role names ("ROLE_admin", "admin") to policy subjects ("ADMIN").
func SubjectFromRole(role string) string {
	role = strings.ToUpper(strings.TrimSpace(role))
	role = strings.TrimPrefix(role, "ROLE_")
	if role == "" {
		return "ANONYMOUS"
	}
	return role
}

// Authorize returns allowed=true when any of the roles may perform action on path.
// enforced is false in shadow/disabled mode, where callers must not reject.
func (a *Authorizer) Authorize(roles []string, path string, action string) (allowed bool, enforced bool, err error) {
	if a.mode == AuthzModeDisabled {
		return true, false, nil
	}
	for _, role := range roles {
		ok, err := a.enforcer.Enforce(SubjectFromRole(role), path, action)
		if err != nil {
			return false, a.mode == AuthzModeEnforce, err
		}
		if ok {
			allowed = true
			break
		}
	}
	switch a.mode {
	case AuthzModeShadow:
		return allowed, false, nil
	case AuthzModeEnforce:
		return allowed, true, nil
	default:
		return false, false, errors.New("authz: unknown mode")
	}
}

var (
	authorizer   *Authorizer
	authorizerMu sync.Mutex
)

// GetAuthorizer builds the process-wide authorizer from AUTHZ_MODE / AUTHZ_POLICY_PATH once.
func GetAuthorizer() (*Authorizer, error) {
	authorizerMu.Lock()
	defer authorizerMu.Unlock()
	if authorizer != nil {
		return authorizer, nil
	}
	mode, err := AuthzModeFromEnv()
	if err != nil {
		return nil, err
	}
	a, err := NewAuthorizer(os.Getenv("AUTHZ_POLICY_PATH"), DefaultAuthzPolicy, mode)
	if err != nil {
		return nil, err
	}
	authorizer = a
	return authorizer, nil
}
