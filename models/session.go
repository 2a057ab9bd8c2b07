package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/simplerp_gateway/appctx"
	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
	"bitbucket.org/mmdatafocus/simplerp_gateway/upstream"
	"bitbucket.org/mmdatafocus/simplerp_gateway/utils"
)

/*
caches:
	Token:$token       session
	Tokens:$username   set of live tokens
*/

type Session struct {
	Token          string      `json:"token"`
	UpstreamToken  string      `json:"upstreamToken"`
	Username       string      `json:"username"`
	OrganizationID upstream.ID `json:"organizationId"`
	Roles          RoleNames   `json:"roles"`
	ExpiresAt      time.Time   `json:"expiresAt"`
}

// LoginInfo is what the SPA receives; the upstream token never leaves the gateway.
type LoginInfo struct {
	Token          string      `json:"token"`
	Username       string      `json:"username"`
	OrganizationID upstream.ID `json:"organizationId"`
	Roles          []string    `json:"roles"`
	ExpiresAt      time.Time   `json:"expiresAt"`
}

func (s *Session) LoginInfo() *LoginInfo {
	roles := []string(s.Roles)
	if roles == nil {
		roles = []string{}
	}
	return &LoginInfo{
		Token:          s.Token,
		Username:       s.Username,
		OrganizationID: s.OrganizationID,
		Roles:          roles,
		ExpiresAt:      s.ExpiresAt,
	}
}

// RoleNames decodes roles sent either as ["ADMIN"] or as [{"name":"ROLE_ADMIN"}].
type RoleNames []string

func (r *RoleNames) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		// a single role as a plain string
		var single string
		if serr := json.Unmarshal(b, &single); serr != nil {
			return fmt.Errorf("roles: %w", err)
		}
		*r = splitRoles(single)
		return nil
	}
	names := make([]string, 0, len(raw))
	for _, item := range raw {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			names = append(names, strings.TrimSpace(name))
			continue
		}
		var obj struct {
			Name     string `json:"name"`
			RoleName string `json:"roleName"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return fmt.Errorf("roles: %w", err)
		}
		name = strings.TrimSpace(obj.Name)
		if name == "" {
			name = strings.TrimSpace(obj.RoleName)
		}
		names = append(names, name)
	}
	*r = names
	return nil
}

func splitRoles(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsAdmin reports whether any role maps to the ADMIN subject.
func (s *Session) IsAdmin() bool {
	for _, r := range s.Roles {
		if config.SubjectFromRole(r) == "ADMIN" {
			return true
		}
	}
	return false
}

// WithSession injects the session and everything upstream calls read from it.
func WithSession(ctx context.Context, s *Session) context.Context {
	ctx = appctx.Set(ctx, appctx.ContextKeySession, s)
	ctx = utils.SetTokenInContext(ctx, s.Token)
	ctx = utils.SetUsernameInContext(ctx, s.Username)
	ctx = utils.SetOrgIdInContext(ctx, s.OrganizationID.String())
	ctx = appctx.Set(ctx, appctx.ContextKeyIsAdmin, s.IsAdmin())
	return upstream.WithBearerToken(ctx, s.UpstreamToken)
}

func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := appctx.Get[*Session](ctx, appctx.ContextKeySession)
	return s, ok && s != nil
}

func sessionKey(token string) string {
	return "Token:" + token
}

// LoadSession resolves a gateway token. The token must carry a valid signature
// and still have a live session in Redis.
func LoadSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	claims, err := utils.JwtValidate(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	var s Session
	exists, err := config.GetRedisObject(ctx, sessionKey(token), &s)
	if err != nil {
		return nil, err
	}
	if !exists || s.Username != claims.Username {
		return nil, ErrNoSession
	}
	return &s, nil
}

type loginResponse struct {
	Token          string      `json:"token"`
	AccessToken    string      `json:"accessToken"`
	Jwt            string      `json:"jwt"`
	UserName       string      `json:"userName"`
	Username       string      `json:"username"`
	OrganizationID upstream.ID `json:"organizationId"`
	Roles          RoleNames   `json:"roles"`
}

func (r *loginResponse) upstreamToken() string {
	for _, t := range []string{r.Token, r.AccessToken, r.Jwt} {
		if strings.TrimSpace(t) != "" {
			return strings.TrimSpace(t)
		}
	}
	return ""
}

type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {
	creds := Credentials{Username: strings.TrimSpace(username), Password: password}
	if err := validateInput(&creds); err != nil {
		return nil, err
	}

	body, err := upstream.Default().PostJSON(ctx, "/auth/login", creds)
	if err != nil {
		return nil, err
	}
	resp, err := upstream.DecodeOne[loginResponse](body)
	if err != nil {
		return nil, err
	}
	upstreamToken := resp.upstreamToken()
	if upstreamToken == "" {
		return nil, fmt.Errorf("%w: login response carries no token", upstream.ErrUnexpectedShape)
	}
	name := resp.UserName
	if name == "" {
		name = resp.Username
	}
	if name == "" {
		name = creds.Username
	}

	token, expiresAt, err := utils.JwtGenerate(name, resp.OrganizationID.String())
	if err != nil {
		return nil, err
	}
	s := &Session{
		Token:          token,
		UpstreamToken:  upstreamToken,
		Username:       name,
		OrganizationID: resp.OrganizationID,
		Roles:          resp.Roles,
		ExpiresAt:      expiresAt,
	}
	lifespan := time.Until(expiresAt)
	if err := config.SetRedisObject(ctx, sessionKey(token), s, lifespan); err != nil {
		return nil, err
	}
	if err := config.AddRedisSet(ctx, "Tokens:"+name, token, lifespan); err != nil {
		return nil, err
	}

	RecordAudit(WithSession(ctx, s), AuditActionLogin, "session", name, nil)
	return s.LoginInfo(), nil
}

type NewRegistration struct {
	Username       string      `json:"username" validate:"required,min=3,max=100"`
	Password       string      `json:"password" validate:"required,min=6"`
	Email          string      `json:"email" validate:"required,email"`
	FullName       string      `json:"fullName" validate:"max=200"`
	PhoneNo        string      `json:"phoneNo" validate:"omitempty,phone"`
	OrganizationID upstream.ID `json:"organizationId,omitempty"`
}

// Register creates an account upstream. It does not sign the user in.
func Register(ctx context.Context, input *NewRegistration) error {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if err := validateInput(input); err != nil {
		return err
	}
	input.PhoneNo = normalizePhone(input.PhoneNo)
	if _, err := upstream.Default().PostJSON(ctx, "/auth/register", input); err != nil {
		return err
	}
	RecordAudit(ctx, AuditActionCreate, "registration", input.Username, map[string]any{
		"username": input.Username,
		"email":    input.Email,
	})
	return nil
}

// destroy current session
func Logout(ctx context.Context) (bool, error) {
	token, ok := utils.GetTokenFromContext(ctx)
	if !ok || token == "" {
		return false, ErrNoSession
	}
	if err := config.RemoveRedisKey(ctx, sessionKey(token), handLoanViewKey(token)); err != nil {
		return false, err
	}
	// remove current token from tokens list
	if username, ok := utils.GetUsernameFromContext(ctx); ok && username != "" {
		if err := config.RemoveRedisSetMember(ctx, "Tokens:"+username, token); err != nil {
			return false, err
		}
	}
	RecordAudit(ctx, AuditActionLogout, "session", token[max(0, len(token)-8):], nil)
	return true, nil
}

// LogoutAll ends every session of the current user, on all devices.
func LogoutAll(ctx context.Context) (int, error) {
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return 0, ErrNoSession
	}
	tokensKey := "Tokens:" + username
	tokens, err := config.GetRedisSetMembers(ctx, tokensKey)
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, 2*len(tokens)+1)
	for _, t := range tokens {
		keys = append(keys, sessionKey(t), handLoanViewKey(t))
	}
	keys = append(keys, tokensKey)
	if err := config.RemoveRedisKey(ctx, keys...); err != nil {
		return 0, err
	}
	RecordAudit(ctx, AuditActionLogout, "session", "all", map[string]any{"sessions": len(tokens)})
	return len(tokens), nil
}

// validateInput runs struct tag validation and turns failures into a ValidationError.
func validateInput(v any) error {
	fields, err := utils.ValidateStruct(v)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	ve := &ValidationError{}
	for field, tag := range fields {
		ve.add(field, validationMessage(tag))
	}
	return ve
}

func validationMessage(tag string) string {
	switch tag {
	case "required":
		return "is required"
	case "email":
		return "is not a valid email address"
	case "phone":
		return "is not a valid phone number"
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	case "oneof":
		return "is not an allowed value"
	case "min", "gte", "gt":
		return "is too small"
	case "max", "lte", "lt":
		return "is too long"
	default:
		return "is invalid (" + tag + ")"
	}
}
