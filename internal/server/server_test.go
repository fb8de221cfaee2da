package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookshelf-service/internal/model"
	"bookshelf-service/internal/queue"
	"bookshelf-service/internal/repository"
	"bookshelf-service/internal/service"
	"bookshelf-service/pkg/database"
	"bookshelf-service/pkg/jwtutil"
	"bookshelf-service/pkg/maintenance"
	"bookshelf-service/prometheus"
)

type fakeProvisioner struct {
	mu      sync.Mutex
	schemas []string
}

func (p *fakeProvisioner) Provision(_ context.Context, schemaName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schemas = append(p.schemas, schemaName)
	return nil
}

func (p *fakeProvisioner) provisioned() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.schemas...)
}

type testEnv struct {
	e           *echo.Echo
	flag        *maintenance.Static
	provisioner *fakeProvisioner
	books       *memStore[model.Book]
	tenants     *memStore[model.Tenant]
}

func newTestEnv(t *testing.T, limits repository.Limits, opts ...func(*Deps)) *testEnv {
	t.Helper()

	flag := maintenance.NewStatic(false)
	logins := newMemStore[model.Login](database.ScopeShared, "identifier",
		[]string{"identifier"}, []string{"verification_token", "tenant_schema_name"}, flag)
	tenants := newMemStore[model.Tenant](database.ScopeShared, "identifier",
		[]string{"identifier"}, []string{"schema_name"}, flag)
	books := newMemStore[model.Book](database.ScopeTenant, "identifier", []string{"identifier"}, nil, flag)
	critics := newMemStore[model.Critic](database.ScopeTenant, "username", []string{"username"}, nil, flag)
	reviews := newMemStore[model.Review](database.ScopeTenant, "", []string{"critic_id", "book_id"}, nil, flag)

	prov := &fakeProvisioner{}
	registry := repository.NewTenantRegistry(tenants)
	jwt := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "test-signing-key", ExpireMinutes: 30})
	metrics := prometheus.InitMetrics("bookshelf_test")
	auth := service.NewAuthService(logins, registry, prov, jwt, metrics, nil)

	deps := Deps{
		Auth:        auth,
		Tokens:      jwt,
		Admins:      []string{"ops@example.com", "admin@example.com"},
		Books:       books,
		Critics:     critics,
		Reviews:     reviews,
		Tenants:     tenants,
		Limits:      limits,
		Maintenance: flag,
		Metrics:     metrics,
		ProvisionTenants: func(ctx context.Context, ids []int64) error {
			schemas, err := registry.SchemasFor(ctx, ids)
			if err != nil {
				return err
			}
			for _, s := range schemas {
				if err := prov.Provision(ctx, s); err != nil {
					return err
				}
			}
			return nil
		},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	e := New(deps)

	return &testEnv{e: e, flag: flag, provisioner: prov, books: books, tenants: tenants}
}

func (env *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode[V any](t *testing.T, rec *httptest.ResponseRecorder) V {
	t.Helper()
	var v V
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// signup creates a login and returns its bearer token, verifying it unless
// told otherwise
func (env *testEnv) signup(t *testing.T, identifier string, verify bool) string {
	t.Helper()
	body := fmt.Sprintf(`{"identifier":%q,"password":"correct-horse"}`, identifier)
	rec := env.do(t, http.MethodPost, APIPrefix+"/login/signup", body, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[map[string]any](t, rec)
	assert.Equal(t, identifier, created["identifier"])
	assert.Equal(t, false, created["verified"])
	assert.NotContains(t, created, "hashed_password")

	form := url.Values{"username": {identifier}, "password": {"correct-horse"}}
	req := httptest.NewRequest(http.MethodPost, APIPrefix+"/login/get_access_token", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	tokenRec := httptest.NewRecorder()
	env.e.ServeHTTP(tokenRec, req)
	require.Equal(t, http.StatusOK, tokenRec.Code, tokenRec.Body.String())
	token := decode[service.Token](t, tokenRec)
	assert.Equal(t, "bearer", token.TokenType)

	if verify {
		path := fmt.Sprintf("%s/login/verify_login?verification_token=%s", APIPrefix, created["verification_token"])
		rec = env.do(t, http.MethodPost, path, "", token.AccessToken)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	return token.AccessToken
}

func defaultLimits() repository.Limits {
	return repository.Limits{Default: 100, Max: 1000}
}

func TestPublicRoutes(t *testing.T) {
	env := newTestEnv(t, defaultLimits())

	rec := env.do(t, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello boils and ghouls", decode[map[string]string](t, rec)["message"])

	rec = env.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, rec)["status"])

	rec = env.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bookshelf_test_http_requests_total")
}

func TestLoginFlow(t *testing.T) {
	env := newTestEnv(t, defaultLimits())
	token := env.signup(t, "reader@example.com", true)

	rec := env.do(t, http.MethodGet, APIPrefix+"/login/me", "", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	me := decode[map[string]any](t, rec)
	assert.Equal(t, "reader@example.com", me["identifier"])
	assert.Equal(t, true, me["verified"])
	assert.NotEmpty(t, me["tenant_schema_name"])
	assert.NotContains(t, me, "verification_token")

	// signup registered a tenant of its own and provisioned its schema
	require.Len(t, env.provisioner.provisioned(), 1)
	assert.Equal(t, me["tenant_schema_name"], env.provisioner.provisioned()[0])

	t.Run("duplicate signup conflicts", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, APIPrefix+"/login/signup",
			`{"identifier":"reader@example.com","password":"correct-horse"}`, "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("wrong password is unauthorized", func(t *testing.T) {
		form := url.Values{"username": {"reader@example.com"}, "password": {"wrong-password"}}
		req := httptest.NewRequest(http.MethodPost, APIPrefix+"/login/get_access_token", strings.NewReader(form.Encode()))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
		rec := httptest.NewRecorder()
		env.e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Bearer", rec.Header().Get(echo.HeaderWWWAuthenticate))
	})

	t.Run("bad verification token", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, APIPrefix+"/login/verify_login?verification_token=nope", "", token)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("short password is rejected", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, APIPrefix+"/login/signup",
			`{"identifier":"short@example.com","password":"short"}`, "")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, APIPrefix+"/login/me", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, APIPrefix+"/login/me", "", "not-a-jwt")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestUnverifiedLoginIsForbidden(t *testing.T) {
	env := newTestEnv(t, defaultLimits())
	token := env.signup(t, "pending@example.com", false)

	rec := env.do(t, http.MethodGet, APIPrefix+"/book", "", token)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, APIPrefix+"/login/me", "", token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBookLifecycle(t *testing.T) {
	env := newTestEnv(t, defaultLimits())
	token := env.signup(t, "owner@example.com", true)

	rec := env.do(t, http.MethodPost, APIPrefix+"/book",
		`{"identifier":"dune","name":"Dune","author":"Frank Herbert","release_year":1965}`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[model.Book](t, rec)
	require.NotZero(t, created.ID)
	assert.Equal(t, "Dune", created.Name)
	require.NotNil(t, created.ReleaseYear)
	assert.Equal(t, 1965, *created.ReleaseYear)
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	bookPath := fmt.Sprintf("%s/book/%d", APIPrefix, created.ID)

	t.Run("patch keeps omitted fields", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, bookPath, `{"name":"Dune (1965)"}`, token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		updated := decode[model.Book](t, rec)
		assert.Equal(t, "Dune (1965)", updated.Name)
		assert.Equal(t, "Frank Herbert", updated.Author)
		require.NotNil(t, updated.ReleaseYear)
		assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))
	})

	t.Run("patch with apply_none_values clears nullable fields", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, bookPath+"?apply_none_values=true", `{"release_year":null}`, token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		updated := decode[model.Book](t, rec)
		assert.Nil(t, updated.ReleaseYear)
		assert.Equal(t, "Frank Herbert", updated.Author)
	})

	t.Run("patch with id in body", func(t *testing.T) {
		body := fmt.Sprintf(`{"id":%d,"author":"F. Herbert"}`, created.ID)
		rec := env.do(t, http.MethodPatch, APIPrefix+"/book", body, token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "F. Herbert", decode[model.Book](t, rec).Author)

		rec = env.do(t, http.MethodPatch, APIPrefix+"/book", `{"author":"nobody"}`, token)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("patch of a missing id", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, APIPrefix+"/book/999999", `{"name":"x"}`, token)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete then read is not found", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, bookPath, "", token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		deleted := decode[map[string]any](t, rec)
		assert.EqualValues(t, created.ID, deleted["id"])

		rec = env.do(t, http.MethodGet, bookPath, "", token)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, decode[map[string]string](t, rec)["error"], "not found")

		rec = env.do(t, http.MethodDelete, bookPath, "", token)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestBookValidation(t *testing.T) {
	env := newTestEnv(t, defaultLimits())
	token := env.signup(t, "strict@example.com", true)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"missing author", http.MethodPost, "/book", `{"identifier":"x","name":"X"}`},
		{"malformed json", http.MethodPost, "/book", `{"identifier":`},
		{"bulk not an array", http.MethodPost, "/book/bulk", `{"identifier":"x"}`},
		{"bulk item invalid", http.MethodPost, "/book/bulk", `[{"identifier":"x","name":"X","author":"A"},{"name":"Y"}]`},
		{"non numeric id", http.MethodGet, "/book/abc", ""},
		{"negative offset", http.MethodGet, "/book?offset=-1", ""},
		{"zero limit", http.MethodGet, "/book?limit=0", ""},
		{"rating out of range", http.MethodPost, "/review", `{"title":"t","critic_id":1,"book_id":1,"rating":6}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, tc.method, APIPrefix+tc.path, tc.body, token)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
	assert.Zero(t, env.books.count(database.Tenant(env.provisioner.provisioned()[0])))
}

func TestBookConflict(t *testing.T) {
	env := newTestEnv(t, defaultLimits())
	token := env.signup(t, "dupe@example.com", true)

	body := `{"identifier":"emma","name":"Emma","author":"Jane Austen"}`
	rec := env.do(t, http.MethodPost, APIPrefix+"/book", body, token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, APIPrefix+"/book", body, token)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReviewUpsert(t *testing.T) {
	env := newTestEnv(t, defaultLimits())
	token := env.signup(t, "critic@example.com", true)

	rec := env.do(t, http.MethodPost, APIPrefix+"/critic", `{"username":"ebert","name":"Roger"}`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	critic := decode[model.Critic](t, rec)

	rec = env.do(t, http.MethodPost, APIPrefix+"/book",
		`{"identifier":"solaris","name":"Solaris","author":"Stanislaw Lem"}`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	book := decode[model.Book](t, rec)

	body := `{"title":"%s","critic_id":%d,"book_id":%d,"rating":%d}`
	rec = env.do(t, http.MethodPut, APIPrefix+"/review", fmt.Sprintf(body, "Cold", critic.ID, book.ID, 2), token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[model.Review](t, rec)

	rec = env.do(t, http.MethodPut, APIPrefix+"/review", fmt.Sprintf(body, "Warmer", critic.ID, book.ID, 4), token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode[model.Review](t, rec)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 4, second.Rating)
	assert.Equal(t, "Warmer", second.Title)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	rec = env.do(t, http.MethodGet, APIPrefix+"/review", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Review](t, rec), 1)

	t.Run("bulk upsert", func(t *testing.T) {
		items := fmt.Sprintf(`[{"title":"Again","critic_id":%d,"book_id":%d,"rating":5}]`, critic.ID, book.ID)
		rec := env.do(t, http.MethodPut, APIPrefix+"/review/bulk", items, token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[bulkIDs](t, rec)
		assert.Equal(t, []int64{first.ID}, resp.IDs)
	})
}

type bulkIDs struct {
	Message string  `json:"message"`
	Count   int     `json:"count"`
	IDs     []int64 `json:"ids"`
}

func TestBulkCreateAndPaging(t *testing.T) {
	env := newTestEnv(t, repository.Limits{Default: 2, Max: 3})
	token := env.signup(t, "bulk@example.com", true)

	rec := env.do(t, http.MethodPost, APIPrefix+"/book/bulk", `[
		{"identifier":"b1","name":"One","author":"A"},
		{"identifier":"b2","name":"Two","author":"A"},
		{"identifier":"b3","name":"Three","author":"A"},
		{"identifier":"b4","name":"Four","author":"A"}
	]`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[bulkIDs](t, rec)
	assert.Equal(t, 4, created.Count)
	assert.Len(t, created.IDs, 4)

	rec = env.do(t, http.MethodGet, APIPrefix+"/book", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Book](t, rec), 2, "default limit")

	rec = env.do(t, http.MethodGet, APIPrefix+"/book?limit=50", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Book](t, rec), 3, "capped at max")

	rec = env.do(t, http.MethodGet, APIPrefix+"/book?offset=3&limit=3", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[[]model.Book](t, rec)
	require.Len(t, page, 1)
	assert.Equal(t, "b4", page[0].Identifier)

	t.Run("bulk with a duplicate writes nothing", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, APIPrefix+"/book/bulk", `[
			{"identifier":"b5","name":"Five","author":"A"},
			{"identifier":"b1","name":"Again","author":"A"}
		]`, token)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, 4, env.books.count(database.Tenant(env.provisioner.provisioned()[0])))
	})

	t.Run("delete all", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, APIPrefix+"/book", "", token)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[bulkIDs](t, rec)
		assert.Equal(t, created.IDs, resp.IDs)
		assert.Zero(t, env.books.count(database.Tenant(env.provisioner.provisioned()[0])))
	})
}

func TestTenantIsolation(t *testing.T) {
	env := newTestEnv(t, defaultLimits())
	alice := env.signup(t, "alice@example.com", true)
	bob := env.signup(t, "bob@example.com", true)

	rec := env.do(t, http.MethodPost, APIPrefix+"/book",
		`{"identifier":"hidden","name":"Hidden","author":"A"}`, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	book := decode[model.Book](t, rec)

	rec = env.do(t, http.MethodGet, APIPrefix+"/book", "", bob)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]model.Book](t, rec))

	rec = env.do(t, http.MethodGet, fmt.Sprintf("%s/book/%d", APIPrefix, book.ID), "", bob)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// the same identifier is free in another tenant
	rec = env.do(t, http.MethodPost, APIPrefix+"/book",
		`{"identifier":"hidden","name":"Bob's","author":"B"}`, bob)
	assert.Equal(t, http.StatusOK, rec.Code)

	t.Run("signup cannot name another tenant", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, APIPrefix+"/login/signup",
			`{"identifier":"carol@example.com","password":"correct-horse","tenant":"alice@example.com"}`, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		created := decode[map[string]any](t, rec)

		form := url.Values{"username": {"carol@example.com"}, "password": {"correct-horse"}}
		req := httptest.NewRequest(http.MethodPost, APIPrefix+"/login/get_access_token", strings.NewReader(form.Encode()))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
		tokenRec := httptest.NewRecorder()
		env.e.ServeHTTP(tokenRec, req)
		require.Equal(t, http.StatusOK, tokenRec.Code, tokenRec.Body.String())
		carol := decode[service.Token](t, tokenRec).AccessToken

		path := fmt.Sprintf("%s/login/verify_login?verification_token=%s", APIPrefix, created["verification_token"])
		require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, path, "", carol).Code)

		rec = env.do(t, http.MethodGet, APIPrefix+"/book", "", carol)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decode[[]model.Book](t, rec))

		rec = env.do(t, http.MethodGet, fmt.Sprintf("%s/book/%d", APIPrefix, book.ID), "", carol)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("a login named like an existing tenant is refused", func(t *testing.T) {
		admin := env.signup(t, "admin@example.com", true)
		rec := env.do(t, http.MethodPost, APIPrefix+"/tenant", `{"identifier":"dave@example.com"}`, admin)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = env.do(t, http.MethodPost, APIPrefix+"/login/signup",
			`{"identifier":"dave@example.com","password":"correct-horse"}`, "")
		assert.Equal(t, http.StatusConflict, rec.Code)

		// the refused signup left no login behind
		form := url.Values{"username": {"dave@example.com"}, "password": {"correct-horse"}}
		req := httptest.NewRequest(http.MethodPost, APIPrefix+"/login/get_access_token", strings.NewReader(form.Encode()))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
		tokenRec := httptest.NewRecorder()
		env.e.ServeHTTP(tokenRec, req)
		assert.Equal(t, http.StatusUnauthorized, tokenRec.Code)
	})

	// every signup got a schema of its own
	schemas := map[string]bool{}
	for _, s := range env.provisioner.provisioned() {
		schemas[s] = true
	}
	assert.Len(t, schemas, len(env.provisioner.provisioned()))
	assert.Len(t, schemas, 5)
}

func TestTenantRoutesNeedAnAdmin(t *testing.T) {
	env := newTestEnv(t, defaultLimits())
	reader := env.signup(t, "reader@example.com", true)
	admin := env.signup(t, "admin@example.com", true)

	rec := env.do(t, http.MethodGet, APIPrefix+"/tenant", "", reader)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodDelete, APIPrefix+"/tenant", "", reader)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPost, APIPrefix+"/tenant", `{"identifier":"acme"}`, reader)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodGet, APIPrefix+"/tenant", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// nothing was deleted
	rec = env.do(t, http.MethodGet, APIPrefix+"/tenant", "", admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[[]model.Tenant](t, rec), 2)
}

func TestTenantResourceProvisions(t *testing.T) {
	env := newTestEnv(t, defaultLimits())
	token := env.signup(t, "admin@example.com", true)
	before := len(env.provisioner.provisioned())

	rec := env.do(t, http.MethodPost, APIPrefix+"/tenant", `{"identifier":"acme","settings":{"plan":"gold"}}`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tenant := decode[model.Tenant](t, rec)
	assert.Contains(t, tenant.SchemaName, database.TenantSchemaPrefix)
	assert.JSONEq(t, `{"plan":"gold"}`, string(tenant.Settings))

	provisioned := env.provisioner.provisioned()
	require.Len(t, provisioned, before+1)
	assert.Equal(t, tenant.SchemaName, provisioned[before])

	// upserting keeps the schema name
	rec = env.do(t, http.MethodPut, APIPrefix+"/tenant", `{"identifier":"acme","settings":{"plan":"silver"}}`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	again := decode[model.Tenant](t, rec)
	assert.Equal(t, tenant.ID, again.ID)
	assert.Equal(t, tenant.SchemaName, again.SchemaName)
	assert.JSONEq(t, `{"plan":"silver"}`, string(again.Settings))

	rec = env.do(t, http.MethodPost, APIPrefix+"/tenant/bulk", `[{"identifier":"globex"},{"identifier":"initech"}]`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, env.provisioner.provisioned(), before+4)
}

func TestMaintenanceMode(t *testing.T) {
	env := newTestEnv(t, defaultLimits())
	token := env.signup(t, "ops@example.com", true)

	rec := env.do(t, http.MethodPut, APIPrefix+"/admin/maintenance", `{"enabled":true}`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, env.flag.Enabled(context.Background()))

	rec = env.do(t, http.MethodGet, APIPrefix+"/book", "", token)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodPost, APIPrefix+"/login/signup",
		`{"identifier":"late@example.com","password":"correct-horse"}`, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodGet, APIPrefix+"/admin/maintenance", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]bool](t, rec)["enabled"])

	rec = env.do(t, http.MethodPut, APIPrefix+"/admin/maintenance", `{"enabled":false}`, token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, APIPrefix+"/book", "", token)
	assert.Equal(t, http.StatusOK, rec.Code)

	t.Run("admin routes need a token", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, APIPrefix+"/admin/maintenance", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("enabled is required", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, APIPrefix+"/admin/maintenance", `{}`, token)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("ordinary logins cannot toggle it", func(t *testing.T) {
		verified := env.signup(t, "reader@example.com", true)
		pending := env.signup(t, "pending@example.com", false)
		for _, tok := range []string{verified, pending} {
			rec := env.do(t, http.MethodPut, APIPrefix+"/admin/maintenance", `{"enabled":true}`, tok)
			assert.Equal(t, http.StatusForbidden, rec.Code)
			rec = env.do(t, http.MethodGet, APIPrefix+"/admin/maintenance", "", tok)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		}
		assert.False(t, env.flag.Enabled(context.Background()))
	})
}

func TestQueueRoutesNeedAQueue(t *testing.T) {
	env := newTestEnv(t, defaultLimits())
	rec := env.do(t, http.MethodGet, "/arqueue/throughput", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeQueue struct {
	mu      sync.Mutex
	jobs    map[string][]any
	results map[string]*queue.Result
	next    int
}

func (q *fakeQueue) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	ids, err := q.EnqueueMany(ctx, name, []any{payload})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (q *fakeQueue) EnqueueMany(_ context.Context, name string, payloads []any) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, len(payloads))
	for i := range payloads {
		q.next++
		ids[i] = fmt.Sprintf("job-%d", q.next)
	}
	q.jobs[name] = append(q.jobs[name], payloads...)
	return ids, nil
}

func (q *fakeQueue) Result(_ context.Context, id string) (*queue.Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.results[id], nil
}

func TestQueueRoutes(t *testing.T) {
	q := &fakeQueue{jobs: map[string][]any{}, results: map[string]*queue.Result{}}
	env := newTestEnv(t, defaultLimits(), func(d *Deps) { d.Queue = q })
	token := env.signup(t, "seeder@example.com", true)

	rec := env.do(t, http.MethodPost, APIPrefix+"/queue/seed_books", `{"count":25}`, token)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	jobID := decode[map[string]string](t, rec)["job_id"]
	require.NotEmpty(t, jobID)
	require.Len(t, q.jobs[queue.JobSeedBooks], 1)
	seed := q.jobs[queue.JobSeedBooks][0].(queue.SeedBooksPayload)
	assert.Equal(t, 25, seed.Count)
	assert.Equal(t, env.provisioner.provisioned()[0], seed.SchemaName)

	rec = env.do(t, http.MethodPost, APIPrefix+"/queue/seed_books", `{"count":10001}`, token)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodGet, APIPrefix+"/queue/jobs/"+jobID, "", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	q.results[jobID] = &queue.Result{JobID: jobID, Name: queue.JobSeedBooks, Status: "success"}
	rec = env.do(t, http.MethodGet, APIPrefix+"/queue/jobs/"+jobID, "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decode[queue.Result](t, rec).Status)

	rec = env.do(t, http.MethodGet, "/arqueue/sandbox", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, q.jobs[queue.JobDownloadContent], 18)

	rec = env.do(t, http.MethodGet, "/arqueue/throughput?n=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, q.jobs[queue.JobNoOp], 5)

	rec = env.do(t, http.MethodGet, "/arqueue/throughput?n=0", "", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPost, APIPrefix+"/queue/seed_books", `{"count":1}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
