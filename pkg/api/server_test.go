package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/hrauth/pkg/auth"
	"github.com/platinummonkey/hrauth/pkg/middleware"
	"github.com/platinummonkey/hrauth/pkg/observability"
	"github.com/platinummonkey/hrauth/pkg/rbac"
	"github.com/platinummonkey/hrauth/pkg/storage/memory"
)

const testPassword = "Secret123!"

type testEnv struct {
	srv   *Server
	svc   *auth.Service
	store *memory.Store
	logs  *bytes.Buffer
}

func newTestEnv(t *testing.T, limiter middleware.Limiter) *testEnv {
	t.Helper()

	logs := &bytes.Buffer{}
	logger := observability.NewLogger(observability.DebugLevel, logs)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store := memory.New()

	tokens, err := auth.NewTokenCodec(auth.TokenConfig{Secret: []byte("api-test-secret"), Issuer: "hrauth-test"})
	require.NoError(t, err)
	svc := auth.NewService(store, auth.NewBcryptHasher(bcrypt.MinCost), tokens, auth.DefaultServiceConfig(),
		auth.WithLogger(logger), auth.WithMetrics(metrics))

	_, err = rbac.InitializeRoles(context.Background(), svc, rbac.BuiltInRoles(), logger)
	require.NoError(t, err)

	srv := NewServer(Options{
		Service:      svc,
		Gateway:      middleware.NewGateway(svc, "", logger),
		LoginLimiter: limiter,
		Logger:       logger,
		Metrics:      metrics,
		CORSOrigins:  []string{"https://hr.example.com"},
	})
	return &testEnv{srv: srv, svc: svc, store: store, logs: logs}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, r)
	return w
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]interface{}](t, w)["error"].(string)
}

// registerAndLogin creates an account and returns its id and access token.
func (e *testEnv) registerAndLogin(t *testing.T, username string) (int64, auth.LoginResult) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": testPassword,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	user := decode[auth.PublicUser](t, w)

	w = e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": username,
		"password": testPassword,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return user.ID, decode[auth.LoginResult](t, w)
}

func (e *testEnv) superuser(t *testing.T, username string) (int64, string) {
	t.Helper()
	id, _ := e.registerAndLogin(t, username)
	require.NoError(t, e.store.SetSuperuser(context.Background(), id, true))

	w := e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": username, "password": testPassword}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	return id, decode[auth.LoginResult](t, w).AccessToken
}

func TestRegisterLoginAndProfile(t *testing.T) {
	e := newTestEnv(t, nil)
	_, login := e.registerAndLogin(t, "alice")

	assert.Equal(t, "bearer", login.TokenType)
	assert.Equal(t, int64(3600), login.ExpiresIn)
	assert.Equal(t, []string{rbac.RoleUser}, login.User.Roles)
	assert.NotContains(t, e.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(login.AccessToken)).Body.String(), "password")

	w := e.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(login.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", decode[auth.PublicUser](t, w).Username)

	w = e.do(t, http.MethodPut, "/api/v1/auth/me", map[string]string{"first_name": "Alice", "last_name": "Liddell"}, bearer(login.AccessToken))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Alice Liddell", decode[auth.PublicUser](t, w).FullName)

	w = e.do(t, http.MethodPut, "/api/v1/auth/me", map[string]string{"email": "not-an-email"}, bearer(login.AccessToken))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/auth/logout", nil, bearer(login.AccessToken))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRegister_Errors(t *testing.T) {
	e := newTestEnv(t, nil)
	e.registerAndLogin(t, "alice")

	tests := []struct {
		name   string
		body   map[string]string
		status int
		kind   string
	}{
		{"duplicate username", map[string]string{"username": "alice", "email": "other@example.com", "password": testPassword}, http.StatusConflict, "duplicate_username"},
		{"duplicate email", map[string]string{"username": "alice2", "email": "alice@example.com", "password": testPassword}, http.StatusConflict, "duplicate_email"},
		{"weak password", map[string]string{"username": "bob", "email": "bob@example.com", "password": "short"}, http.StatusUnprocessableEntity, "weak_password"},
		{"password beyond bcrypt limit", map[string]string{"username": "bob", "email": "bob@example.com", "password": "Aa1" + strings.Repeat("x", 77)}, http.StatusUnprocessableEntity, "weak_password"},
		{"bad email", map[string]string{"username": "bob", "email": "bob", "password": testPassword}, http.StatusBadRequest, "validation_error"},
		{"missing username", map[string]string{"email": "bob@example.com", "password": testPassword}, http.StatusBadRequest, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/api/v1/auth/register", tt.body, nil)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.kind, errorKind(t, w))
		})
	}
}

func TestLogin_LockoutAfterRepeatedFailures(t *testing.T) {
	e := newTestEnv(t, nil)
	e.registerAndLogin(t, "alice")

	bad := map[string]string{"username": "alice", "password": "wrong-password"}
	for i := 0; i < 4; i++ {
		w := e.do(t, http.MethodPost, "/api/v1/auth/login", bad, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "invalid_credentials", errorKind(t, w))
	}

	w := e.do(t, http.MethodPost, "/api/v1/auth/login", bad, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "account_locked", errorKind(t, w))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Correct password is refused while locked.
	w = e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "alice", "password": testPassword}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "nobody", "password": testPassword}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_credentials", errorKind(t, w))
}

func TestRefresh(t *testing.T) {
	e := newTestEnv(t, nil)
	_, login := e.registerAndLogin(t, "alice")

	w := e.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refresh_token": login.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	pair := decode[auth.TokenPair](t, w)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	w = e.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refresh_token": login.AccessToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "wrong_token_type", errorKind(t, w))

	// A refresh token cannot authenticate a request.
	w = e.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(login.RefreshToken))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChangePassword(t *testing.T) {
	e := newTestEnv(t, nil)
	_, login := e.registerAndLogin(t, "alice")
	h := bearer(login.AccessToken)

	w := e.do(t, http.MethodPost, "/api/v1/auth/change-password", map[string]string{"old_password": "wrong", "new_password": "NewSecret456!"}, h)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/auth/change-password", map[string]string{"old_password": testPassword, "new_password": "NewSecret456!"}, h)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "alice", "password": "NewSecret456!"}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyLifecycle(t *testing.T) {
	e := newTestEnv(t, nil)
	_, login := e.registerAndLogin(t, "alice")
	h := bearer(login.AccessToken)

	w := e.do(t, http.MethodPost, "/api/v1/auth/api-keys", map[string]interface{}{
		"name":            "ci",
		"scopes":          []string{rbac.PermProfileRead},
		"expires_in_days": 30,
	}, h)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	created := decode[auth.CreatedAPIKey](t, w)
	require.NotEmpty(t, created.Key)
	assert.Equal(t, auth.ExtractAPIKeyPrefix(created.Key), created.KeyPrefix)
	require.NotNil(t, created.ExpiresAt)

	keyHeader := map[string]string{middleware.DefaultAPIKeyHeader: created.Key}
	w = e.do(t, http.MethodGet, "/api/v1/auth/me", nil, keyHeader)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "alice", decode[auth.PublicUser](t, w).Username)

	w = e.do(t, http.MethodGet, "/api/v1/auth/api-keys", nil, h)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), created.Key)
	list := decode[apiKeyList](t, w)
	require.Len(t, list.APIKeys, 1)
	assert.Equal(t, "ci", list.APIKeys[0].Name)

	w = e.do(t, http.MethodDelete, "/api/v1/auth/api-keys/"+strconv.FormatInt(created.ID, 10), nil, h)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/auth/me", nil, keyHeader)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodDelete, "/api/v1/auth/api-keys/abc", nil, h)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/auth/api-keys", map[string]interface{}{"name": "bad", "expires_in_days": -1}, h)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPIKeys_ScopedKeyCannotWidenItself(t *testing.T) {
	e := newTestEnv(t, nil)
	_, root := e.superuser(t, "root")
	readEmployees := rbac.Perm(rbac.ResourceEmployees, rbac.ActionRead)

	w := e.do(t, http.MethodPost, "/api/v1/auth/api-keys", map[string]interface{}{
		"name":   "reader",
		"scopes": []string{readEmployees},
	}, bearer(root))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	scoped := decode[auth.CreatedAPIKey](t, w)
	keyHeader := map[string]string{middleware.DefaultAPIKeyHeader: scoped.Key}

	w = e.do(t, http.MethodGet, "/api/v1/auth/roles", nil, keyHeader)
	require.Equal(t, http.StatusForbidden, w.Code)

	// A key without scopes is unrestricted, so minting one is an escalation.
	w = e.do(t, http.MethodPost, "/api/v1/auth/api-keys", map[string]interface{}{"name": "wide"}, keyHeader)
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	assert.Equal(t, "forbidden", errorKind(t, w))

	w = e.do(t, http.MethodPost, "/api/v1/auth/api-keys", map[string]interface{}{
		"name":   "admin",
		"scopes": []string{rbac.PermRolesAdmin},
	}, keyHeader)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/auth/api-keys", map[string]interface{}{
		"name":   "reader-2",
		"scopes": []string{readEmployees},
	}, keyHeader)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// The scoped key cannot revoke keys broader than itself.
	w = e.do(t, http.MethodPost, "/api/v1/auth/api-keys", map[string]interface{}{"name": "root-wide"}, bearer(root))
	require.Equal(t, http.StatusCreated, w.Code)
	wide := decode[auth.CreatedAPIKey](t, w)

	w = e.do(t, http.MethodDelete, "/api/v1/auth/api-keys/"+strconv.FormatInt(wide.ID, 10), nil, keyHeader)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/auth/me", nil, map[string]string{middleware.DefaultAPIKeyHeader: wide.Key})
	assert.Equal(t, http.StatusOK, w.Code, "denied revoke leaves the key working")
}

func TestAuthenticatedRoutesRequireCredentials(t *testing.T) {
	e := newTestEnv(t, nil)

	for _, path := range []string{"/api/v1/auth/me", "/api/v1/auth/api-keys", "/api/v1/auth/roles", "/api/v1/auth/users/locked"} {
		w := e.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Equal(t, "unauthenticated", errorKind(t, w), path)
	}

	w := e.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer("not-a-jwt"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "token_invalid", errorKind(t, w))
}

func TestAdminRoutes(t *testing.T) {
	e := newTestEnv(t, nil)
	bobID, bob := e.registerAndLogin(t, "bob")
	_, admin := e.superuser(t, "root")
	adminH := bearer(admin)
	bobPath := "/api/v1/auth/users/" + strconv.FormatInt(bobID, 10)

	// Regular users are denied and the denial is audited.
	w := e.do(t, http.MethodGet, "/api/v1/auth/roles", nil, bearer(bob.AccessToken))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, e.logs.String(), auth.ActionAccessDenied)

	w = e.do(t, http.MethodGet, "/api/v1/auth/roles", nil, adminH)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[roleList](t, w).Roles, len(rbac.BuiltInRoles()))

	w = e.do(t, http.MethodPost, "/api/v1/auth/roles", map[string]interface{}{
		"name":        "payroll",
		"permissions": []string{rbac.Perm(rbac.ResourceSalaries, rbac.ActionRead)},
	}, adminH)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = e.do(t, http.MethodPost, "/api/v1/auth/roles", map[string]interface{}{"name": "payroll"}, adminH)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/auth/roles", map[string]interface{}{"name": "broken", "permissions": []string{"salaries"}}, adminH)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, bobPath+"/roles/payroll", nil, adminH)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = e.do(t, http.MethodPost, bobPath+"/roles/nonexistent", nil, adminH)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "role_not_found", errorKind(t, w))

	ident, err := e.svc.Identity(context.Background(), bobID, auth.ChannelToken)
	require.NoError(t, err)
	assert.True(t, rbac.HasRole(ident, "payroll"))

	w = e.do(t, http.MethodDelete, bobPath+"/roles/payroll", nil, adminH)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/auth/users/9999/unlock", nil, adminH)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRoutes_PermissionGrantsAccess(t *testing.T) {
	e := newTestEnv(t, nil)
	_, root := e.superuser(t, "root")
	carolID, carol := e.registerAndLogin(t, "carol")

	w := e.do(t, http.MethodGet, "/api/v1/auth/users/locked", nil, bearer(carol.AccessToken))
	require.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/auth/users/"+strconv.FormatInt(carolID, 10)+"/roles/"+rbac.RoleAdmin, nil, bearer(root))
	require.Equal(t, http.StatusNoContent, w.Code)

	// Roles are resolved per request, so the token issued before the grant
	// now passes.
	w = e.do(t, http.MethodGet, "/api/v1/auth/users/locked", nil, bearer(carol.AccessToken))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmin_LockedUsersAndUnlock(t *testing.T) {
	e := newTestEnv(t, nil)
	aliceID, _ := e.registerAndLogin(t, "alice")
	_, root := e.superuser(t, "root")
	h := bearer(root)

	for i := 0; i < 5; i++ {
		e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "alice", "password": "wrong-password"}, nil)
	}

	w := e.do(t, http.MethodGet, "/api/v1/auth/users/locked", nil, h)
	require.Equal(t, http.StatusOK, w.Code)
	locked := decode[userList](t, w).Users
	require.Len(t, locked, 1)
	assert.Equal(t, "alice", locked[0].Username)
	assert.True(t, locked[0].IsLocked)

	w = e.do(t, http.MethodPost, "/api/v1/auth/users/"+strconv.FormatInt(aliceID, 10)+"/unlock", nil, h)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "alice", "password": testPassword}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmin_SetActive(t *testing.T) {
	e := newTestEnv(t, nil)
	aliceID, alice := e.registerAndLogin(t, "alice")
	rootID, root := e.superuser(t, "root")
	h := bearer(root)
	path := "/api/v1/auth/users/" + strconv.FormatInt(aliceID, 10) + "/active"

	w := e.do(t, http.MethodPut, path, map[string]interface{}{}, h)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPut, path, map[string]bool{"active": false}, h)
	require.Equal(t, http.StatusNoContent, w.Code)

	// Outstanding tokens stop working immediately.
	w = e.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(alice.AccessToken))
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refresh_token": alice.RefreshToken}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPut, "/api/v1/auth/users/"+strconv.FormatInt(rootID, 10)+"/active", map[string]bool{"active": false}, h)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_RoleAdministration(t *testing.T) {
	e := newTestEnv(t, nil)
	bobID, bob := e.registerAndLogin(t, "bob")
	carolID, _ := e.registerAndLogin(t, "carol")
	rootID, root := e.superuser(t, "root")
	h := bearer(root)
	salaries := rbac.Perm(rbac.ResourceSalaries, rbac.ActionRead)

	w := e.do(t, http.MethodGet, "/api/v1/auth/roles/user/users?limit=2", nil, h)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page := decode[roleUserList](t, w)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Users, 2)
	assert.Equal(t, bobID, page.Users[0].ID)
	assert.Equal(t, carolID, page.Users[1].ID)

	w = e.do(t, http.MethodGet, "/api/v1/auth/roles/user/users?limit=2&offset=2", nil, h)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[roleUserList](t, w)
	require.Len(t, page.Users, 1)
	assert.Equal(t, rootID, page.Users[0].ID)

	w = e.do(t, http.MethodGet, "/api/v1/auth/roles/user/users?limit=junk", nil, h)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, auth.DefaultPageSize, decode[roleUserList](t, w).Limit)

	w = e.do(t, http.MethodGet, "/api/v1/auth/roles/ghost/users", nil, h)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "role_not_found", errorKind(t, w))

	w = e.do(t, http.MethodPost, "/api/v1/auth/roles/user/permissions/"+salaries, nil, h)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, decode[auth.Role](t, w).Permissions, salaries)

	w = e.do(t, http.MethodGet, "/api/v1/auth/me/permissions/"+salaries, nil, bearer(bob.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)
	check := decode[permissionCheck](t, w)
	assert.True(t, check.Allowed)
	assert.Equal(t, []string{rbac.RoleUser}, check.MatchedRoles)

	w = e.do(t, http.MethodPost, "/api/v1/auth/roles/user/permissions/salaries", nil, h)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodDelete, "/api/v1/auth/roles/user/permissions/"+salaries, nil, h)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, decode[auth.Role](t, w).Permissions, salaries)

	w = e.do(t, http.MethodGet, "/api/v1/auth/me/permissions/"+salaries, nil, bearer(bob.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[permissionCheck](t, w).Allowed)

	w = e.do(t, http.MethodPut, "/api/v1/auth/roles/user/active", map[string]interface{}{}, h)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPut, "/api/v1/auth/roles/user/active", map[string]bool{"active": false}, h)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, e.logs.String(), auth.ActionRoleDeactivated)
	assert.Contains(t, e.logs.String(), `"resource_id":"user"`)

	// The grant stays but stops conferring permissions.
	w = e.do(t, http.MethodGet, "/api/v1/auth/me/permissions", nil, bearer(bob.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)
	perms := decode[callerPermissions](t, w)
	assert.Empty(t, perms.Roles)
	assert.Empty(t, perms.Permissions)

	w = e.do(t, http.MethodPut, "/api/v1/auth/roles/ghost/active", map[string]bool{"active": true}, h)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/auth/roles/user/permissions/"+salaries, nil, bearer(bob.AccessToken))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminRoutes_AuditorReadsOnly(t *testing.T) {
	e := newTestEnv(t, nil)
	_, root := e.superuser(t, "root")
	daveID, dave := e.registerAndLogin(t, "dave")
	davePath := "/api/v1/auth/users/" + strconv.FormatInt(daveID, 10)

	w := e.do(t, http.MethodPost, davePath+"/roles/"+rbac.RoleAuditor, nil, bearer(root))
	require.Equal(t, http.StatusNoContent, w.Code)
	h := bearer(dave.AccessToken)

	w = e.do(t, http.MethodGet, "/api/v1/auth/roles", nil, h)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(t, http.MethodGet, "/api/v1/auth/users/locked", nil, h)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, http.MethodPost, "/api/v1/auth/roles", map[string]interface{}{"name": "sneaky"}, h)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(t, http.MethodGet, "/api/v1/auth/roles/user/users", nil, h)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(t, http.MethodPost, davePath+"/unlock", nil, h)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(t, http.MethodDelete, davePath+"/roles/"+rbac.RoleAuditor, nil, h)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMyPermissions(t *testing.T) {
	e := newTestEnv(t, nil)
	_, alice := e.registerAndLogin(t, "alice")
	h := bearer(alice.AccessToken)
	departments := rbac.Perm(rbac.ResourceDepartments, rbac.ActionRead)

	w := e.do(t, http.MethodGet, "/api/v1/auth/me/permissions", nil, h)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	perms := decode[callerPermissions](t, w)
	assert.False(t, perms.IsSuperuser)
	assert.Equal(t, []string{rbac.RoleUser}, perms.Roles)
	assert.Equal(t, []string{departments, rbac.PermProfileRead}, perms.Permissions)
	assert.Empty(t, perms.Scopes)

	w = e.do(t, http.MethodGet, "/api/v1/auth/me/permissions/"+rbac.PermRolesAdmin, nil, h)
	require.Equal(t, http.StatusOK, w.Code)
	check := decode[permissionCheck](t, w)
	assert.Equal(t, rbac.PermRolesAdmin, check.Permission)
	assert.False(t, check.Allowed)
	assert.Equal(t, "no active role grants "+rbac.PermRolesAdmin, check.Reason)

	w = e.do(t, http.MethodPost, "/api/v1/auth/api-keys", map[string]interface{}{
		"name":   "profile",
		"scopes": []string{rbac.PermProfileRead},
	}, h)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	keyHeader := map[string]string{middleware.DefaultAPIKeyHeader: decode[auth.CreatedAPIKey](t, w).Key}

	w = e.do(t, http.MethodGet, "/api/v1/auth/me/permissions", nil, keyHeader)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{rbac.PermProfileRead}, decode[callerPermissions](t, w).Scopes)

	// The role grants departments:read but the key's scopes do not.
	w = e.do(t, http.MethodGet, "/api/v1/auth/me/permissions/"+departments, nil, keyHeader)
	require.Equal(t, http.StatusOK, w.Code)
	check = decode[permissionCheck](t, w)
	assert.False(t, check.Allowed)
	assert.Equal(t, "api key scopes exclude "+departments, check.Reason)

	w = e.do(t, http.MethodGet, "/api/v1/auth/me/permissions", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginRateLimit(t *testing.T) {
	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
	})
	e := newTestEnv(t, limiter)

	body := map[string]string{"username": "ghost", "password": testPassword}
	for i := 0; i < 2; i++ {
		w := e.do(t, http.MethodPost, "/api/v1/auth/login", body, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, strconv.Itoa(1-i), w.Header().Get(middleware.RemainingHeader))
	}

	w := e.do(t, http.MethodPost, "/api/v1/auth/login", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get(middleware.RemainingHeader))

	// Buckets are per scope.
	w = e.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refresh_token": "x"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouting(t *testing.T) {
	e := newTestEnv(t, nil)

	w := e.do(t, http.MethodGet, "/api/v1/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", errorKind(t, w))

	w = e.do(t, http.MethodGet, "/api/v1/auth/login", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	r := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
	r.Header.Set("Origin", "https://hr.example.com")
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://hr.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), middleware.DefaultAPIKeyHeader)
	assert.NotEmpty(t, rec.Header().Get(observability.RequestIDHeader))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString("username=a"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}
