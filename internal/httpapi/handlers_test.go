package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"orbistack.org/internal/apikey"
	"orbistack.org/internal/auth"
	"orbistack.org/internal/rbac"
)

// --- in-memory fakes ---

type memUsers struct {
	mu    sync.Mutex
	users map[string]*auth.User
	next  int
}

var _ auth.UserRepository = (*memUsers)(nil)

func newMemUsers() *memUsers { return &memUsers{users: make(map[string]*auth.User)} }

func (r *memUsers) Create(_ context.Context, user *auth.User) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	clone := *user
	clone.ID = fmt.Sprintf("u-%d", r.next)
	r.users[clone.ID] = &clone
	out := clone
	return &out, nil
}

func (r *memUsers) Get(_ context.Context, id string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := *user
	return &out, nil
}

func (r *memUsers) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Username == username {
			out := *user
			return &out, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memUsers) List(_ context.Context, _, _ int) ([]*auth.User, int, error) {
	return nil, 0, nil
}

func (r *memUsers) Update(_ context.Context, user *auth.User) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *user
	r.users[user.ID] = &clone
	out := clone
	return &out, nil
}

func (r *memUsers) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	return nil
}

func (r *memUsers) UpdateLastLogin(_ context.Context, _ string) error { return nil }

type memKeys struct {
	mu   sync.Mutex
	keys map[string]*apikey.APIKey
	next int
}

var _ apikey.Repository = (*memKeys)(nil)

func newMemKeys() *memKeys { return &memKeys{keys: make(map[string]*apikey.APIKey)} }

func (r *memKeys) Create(_ context.Context, key *apikey.APIKey) (*apikey.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	clone := *key
	clone.ID = fmt.Sprintf("k-%d", r.next)
	clone.CreatedAt = time.Now().UTC()
	r.keys[clone.ID] = &clone
	out := clone
	return &out, nil
}

func (r *memKeys) Get(_ context.Context, id string) (*apikey.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return nil, apikey.ErrNotFound
	}
	out := *key
	return &out, nil
}

func (r *memKeys) GetByPrefix(_ context.Context, prefix string) (*apikey.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.keys {
		if key.Prefix == prefix {
			out := *key
			return &out, nil
		}
	}
	return nil, apikey.ErrNotFound
}

func (r *memKeys) List(_ context.Context, _ string) ([]*apikey.APIKey, error) { return nil, nil }
func (r *memKeys) Delete(_ context.Context, _ string) error                   { return nil }
func (r *memKeys) Revoke(_ context.Context, _ string) error                   { return nil }
func (r *memKeys) TrackUsage(_ context.Context, _ string) error               { return nil }
func (r *memKeys) ExpireOld(_ context.Context) (int64, error)                 { return 0, nil }
func (r *memKeys) CountByUser(_ context.Context, _ string) (int, error)       { return 0, nil }

// --- harness ---

type testAPI struct {
	api     *API
	handler http.Handler
	auth    *auth.Service
	keys    *apikey.Service
	userID  string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	hasher := auth.NewHasher(bcrypt.MinCost)
	tokens, err := auth.NewTokenAuthority([]byte("httpapi-test-secret"))
	if err != nil {
		t.Fatalf("token authority: %v", err)
	}
	authSvc, err := auth.NewService(newMemUsers(), hasher, tokens, nil)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	keySvc, err := apikey.NewService(newMemKeys(), hasher)
	if err != nil {
		t.Fatalf("key service: %v", err)
	}

	user, err := authSvc.CreateUser(context.Background(), "amina", "amina@example.com", "hunter2!", rbac.RoleOperator)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	api := New(authSvc, keySvc, ReadyProbe{}, "test")
	return &testAPI{api: api, handler: api.Handler(), auth: authSvc, keys: keySvc, userID: user.ID}
}

func (ta *testAPI) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	rr := httptest.NewRecorder()
	ta.handler.ServeHTTP(rr, req)
	return rr
}

func (ta *testAPI) login(t *testing.T) loginResponse {
	t.Helper()
	rr := ta.do(t, http.MethodPost, "/v1/auth/login",
		loginRequest{Username: "amina", Password: "hunter2!"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp
}

// --- tests ---

func TestHealthz(t *testing.T) {
	ta := newTestAPI(t)
	rr := ta.do(t, http.MethodGet, "/healthz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "orbistack-api" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestReadyWithoutDB(t *testing.T) {
	ta := newTestAPI(t)
	rr := ta.do(t, http.MethodGet, "/readyz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestLoginAndMe(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.login(t)
	if resp.AccessToken == "" || resp.User == nil || resp.User.Username != "amina" {
		t.Fatalf("unexpected login response %+v", resp)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+resp.AccessToken)
	rr := ta.do(t, http.MethodGet, "/v1/auth/me", nil, header)
	if rr.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var me userView
	if err := json.Unmarshal(rr.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me.Username != "amina" || me.Role != "operator" {
		t.Fatalf("unexpected identity %+v", me)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	ta := newTestAPI(t)
	rr := ta.do(t, http.MethodPost, "/v1/auth/login",
		loginRequest{Username: "amina", Password: "wrong"}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestProtectedPathRequiresAuth(t *testing.T) {
	ta := newTestAPI(t)
	rr := ta.do(t, http.MethodGet, "/v1/auth/me", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
}

func TestRefreshEndpoint(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.login(t)

	rr := ta.do(t, http.MethodPost, "/v1/auth/refresh",
		refreshRequest{RefreshToken: resp.RefreshToken}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// An access token in the refresh slot must be rejected.
	rr = ta.do(t, http.MethodPost, "/v1/auth/refresh",
		refreshRequest{RefreshToken: resp.AccessToken}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for access token, got %d", rr.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	ta := newTestAPI(t)

	gen, err := ta.keys.Generate(context.Background(), &apikey.GenerateRequest{
		Name:      "ci",
		CreatedBy: ta.userID,
	})
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	header := http.Header{}
	header.Set("X-API-Key", gen.RawKey)
	rr := ta.do(t, http.MethodGet, "/v1/auth/me", nil, header)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	header.Set("X-API-Key", "ob_AAAAAAAA_not-a-real-key")
	rr = ta.do(t, http.MethodGet, "/v1/auth/me", nil, header)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad key, got %d", rr.Code)
	}
}

func TestLogout(t *testing.T) {
	ta := newTestAPI(t)
	resp := ta.login(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+resp.AccessToken)
	rr := ta.do(t, http.MethodPost, "/v1/auth/logout",
		logoutRequest{SessionID: resp.SessionID}, header)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ta := newTestAPI(t)
	rr := ta.do(t, http.MethodGet, "/v1/auth/login", nil, nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected Allow: POST, got %q", rr.Header().Get("Allow"))
	}
}
