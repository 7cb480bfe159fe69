package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/labtrack/internal/logger"
	"github.com/nkiryanov/labtrack/internal/metrics"
	"github.com/nkiryanov/labtrack/internal/models"
	"github.com/nkiryanov/labtrack/internal/repository/postgres"
	"github.com/nkiryanov/labtrack/internal/service/auth"
	"github.com/nkiryanov/labtrack/internal/service/auth/accesstoken"
	"github.com/nkiryanov/labtrack/internal/service/auth/hasher"
	"github.com/nkiryanov/labtrack/internal/service/auth/refreshtoken"
	"github.com/nkiryanov/labtrack/internal/service/user"
	"github.com/nkiryanov/labtrack/internal/testutil"
)

type testAPI struct {
	t     *testing.T
	url   string
	users *user.UserService
}

type apiResponse struct {
	Status int
	Body   map[string]any
	Raw    string
}

func (a testAPI) do(method string, path string, access string, body string) apiResponse {
	a.t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(a.t.Context(), method, a.url+path, reader)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	defer func() { _ = resp.Body.Close() }()

	result := apiResponse{Status: resp.StatusCode, Raw: string(raw)}
	_ = json.Unmarshal(raw, &result.Body)
	return result
}

// Create user with the given role and return its access and refresh tokens
func (a testAPI) login(username string, role models.Role) (string, string) {
	a.t.Helper()

	_, err := a.users.CreateUser(a.t.Context(), user.CreateUserParams{
		Username: username,
		Email:    username + "@lab.test",
		Password: "pwd-" + username,
		Role:     role,
	})
	require.NoError(a.t, err)

	resp := a.do(http.MethodPost, "/api/auth/login", "", `{"login": "`+username+`", "password": "pwd-`+username+`"}`)
	require.Equalf(a.t, http.StatusOK, resp.Status, "login failed. Body: %s", resp.Raw)

	return resp.Body["access_token"].(string), resp.Body["refresh_token"].(string)
}

func Test_Router(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	// Run http server with production services over db transaction
	withAPI := func(t *testing.T, fn func(api testAPI)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)

			codec, err := accesstoken.New(accesstoken.Config{SecretKey: "test-secret-key-that-is-long-enough", AccessTTL: 5 * time.Minute})
			require.NoError(t, err)
			store, err := refreshtoken.New(refreshtoken.Config{RefreshTTL: time.Hour}, storage.Refresh())
			require.NoError(t, err)

			users := user.NewService(user.Config{Hasher: hasher.PBKDF2{Iterations: 1000}}, storage)
			s, err := auth.NewService(auth.Config{}, codec, store, users)
			require.NoError(t, err)

			router := NewRouter(s, users, logger.NewNoOpLogger(), Options{
				LoginRateLimit: 1000,
				Metrics:        metrics.New(),
				Pinger:         pg.Pool,
			})
			srv := httptest.NewServer(router)
			defer srv.Close()

			fn(testAPI{t: t, url: srv.URL, users: users})
		})
	}

	t.Run("register", func(t *testing.T) {
		t.Run("ok", func(t *testing.T) {
			withAPI(t, func(api testAPI) {
				resp := api.do(http.MethodPost, "/api/auth/register", "", `{
					"username": "alice",
					"email": "Alice@Lab.test",
					"password": "StrongEnoughPassword",
					"first_name": "Alice"
				}`)

				require.Equalf(t, http.StatusCreated, resp.Status, "Body: %s", resp.Raw)
				assert.Equal(t, "alice", resp.Body["username"])
				assert.Equal(t, "alice@lab.test", resp.Body["email"])
				assert.Equal(t, "lab_engg", resp.Body["role"], "self registered user is always lab engineer")
				assert.NotContains(t, resp.Raw, "password", "password hash must never be rendered")
			})
		})

		t.Run("role in body ignored", func(t *testing.T) {
			withAPI(t, func(api testAPI) {
				resp := api.do(http.MethodPost, "/api/auth/register", "", `{"username": "mallory", "email": "m@lab.test", "password": "StrongEnoughPassword", "role": "admin"}`)

				require.Equal(t, http.StatusCreated, resp.Status)
				assert.Equal(t, "lab_engg", resp.Body["role"])
			})
		})

		t.Run("duplicate", func(t *testing.T) {
			withAPI(t, func(api testAPI) {
				body := `{"username": "alice", "email": "alice@lab.test", "password": "StrongEnoughPassword"}`
				resp := api.do(http.MethodPost, "/api/auth/register", "", body)
				require.Equal(t, http.StatusCreated, resp.Status)

				resp = api.do(http.MethodPost, "/api/auth/register", "", body)

				require.Equal(t, http.StatusConflict, resp.Status)
				assert.Equal(t, "user_exists", resp.Body["error"])
			})
		})

		t.Run("invalid body", func(t *testing.T) {
			withAPI(t, func(api testAPI) {
				resp := api.do(http.MethodPost, "/api/auth/register", "", `{"username": "alice", "email": "not-an-email", "password": "short"}`)

				require.Equal(t, http.StatusBadRequest, resp.Status)
				assert.JSONEq(t, `{
					"error": "validation_failed",
					"message": "Request validation failed",
					"fields": {
						"email": "Enter a valid email address",
						"password": "Value is too short (minimum 8)"
					}
				}`, resp.Raw)
			})
		})

		t.Run("username with at sign", func(t *testing.T) {
			withAPI(t, func(api testAPI) {
				resp := api.do(http.MethodPost, "/api/auth/register", "", `{"username": "bob@lab", "email": "bob@lab.test", "password": "StrongEnoughPassword"}`)

				require.Equal(t, http.StatusBadRequest, resp.Status)
				assert.JSONEq(t, `{
					"error": "validation_failed",
					"message": "Request validation failed",
					"fields": {"username": "Must not contain '@'"}
				}`, resp.Raw)
			})
		})
	})

	t.Run("login", func(t *testing.T) {
		t.Run("ok by username and email", func(t *testing.T) {
			withAPI(t, func(api testAPI) {
				api.login("alice", models.RoleLabEngineer)

				resp := api.do(http.MethodPost, "/api/auth/login", "", `{"login": "ALICE@lab.test", "password": "pwd-alice"}`)

				require.Equalf(t, http.StatusOK, resp.Status, "Body: %s", resp.Raw)
				assert.Equal(t, "Bearer", resp.Body["token_type"])
				assert.NotEmpty(t, resp.Body["access_token"])
				assert.NotEmpty(t, resp.Body["access_expires_at"])
				assert.NotEmpty(t, resp.Body["refresh_token"])
				assert.NotEmpty(t, resp.Body["refresh_expires_at"])
				userBody := resp.Body["user"].(map[string]any)
				assert.Equal(t, "alice", userBody["username"])
				assert.NotNil(t, userBody["last_login"], "login is recorded")
			})
		})

		t.Run("wrong password and unknown user look the same", func(t *testing.T) {
			withAPI(t, func(api testAPI) {
				api.login("alice", models.RoleLabEngineer)

				wrong := api.do(http.MethodPost, "/api/auth/login", "", `{"login": "alice", "password": "wrong"}`)
				unknown := api.do(http.MethodPost, "/api/auth/login", "", `{"login": "bob", "password": "wrong"}`)

				require.Equal(t, http.StatusUnauthorized, wrong.Status)
				require.Equal(t, wrong.Raw, unknown.Raw)
				assert.Equal(t, "invalid_credentials", wrong.Body["error"])
			})
		})
	})

	t.Run("refresh rotates token", func(t *testing.T) {
		withAPI(t, func(api testAPI) {
			_, refresh := api.login("alice", models.RoleLabEngineer)

			resp := api.do(http.MethodPost, "/api/auth/refresh", "", `{"refresh_token": "`+refresh+`"}`)
			require.Equalf(t, http.StatusOK, resp.Status, "Body: %s", resp.Raw)
			rotated := resp.Body["refresh_token"].(string)
			require.NotEqual(t, refresh, rotated)
			require.NotContains(t, resp.Body, "user", "refresh response has no user")

			reused := api.do(http.MethodPost, "/api/auth/refresh", "", `{"refresh_token": "`+refresh+`"}`)
			require.Equal(t, http.StatusUnauthorized, reused.Status)
			assert.Equal(t, "invalid_refresh_token", reused.Body["error"])

			unknown := api.do(http.MethodPost, "/api/auth/refresh", "", `{"refresh_token": "unknown"}`)
			require.Equal(t, reused.Raw, unknown.Raw, "reused and unknown tokens look the same")
		})
	})

	t.Run("logout", func(t *testing.T) {
		withAPI(t, func(api testAPI) {
			_, refresh := api.login("alice", models.RoleLabEngineer)

			for _, body := range []string{`{"refresh_token": "` + refresh + `"}`, `{"refresh_token": "` + refresh + `"}`, `{"refresh_token": "garbage"}`, `{}`, ``} {
				resp := api.do(http.MethodPost, "/api/auth/logout", "", body)
				require.Equalf(t, http.StatusOK, resp.Status, "logout always succeeds. Body sent: %q", body)
				assert.Equal(t, "Logged out", resp.Body["message"])
			}

			resp := api.do(http.MethodPost, "/api/auth/refresh", "", `{"refresh_token": "`+refresh+`"}`)
			require.Equal(t, http.StatusUnauthorized, resp.Status)
		})
	})

	t.Run("logout all", func(t *testing.T) {
		withAPI(t, func(api testAPI) {
			access, refresh := api.login("alice", models.RoleLabEngineer)
			resp := api.do(http.MethodPost, "/api/auth/login", "", `{"login": "alice", "password": "pwd-alice"}`)
			require.Equal(t, http.StatusOK, resp.Status)

			resp = api.do(http.MethodPost, "/api/auth/logout-all", access, "")

			require.Equalf(t, http.StatusOK, resp.Status, "Body: %s", resp.Raw)
			assert.JSONEq(t, `{"revoked": 2}`, resp.Raw)
			resp = api.do(http.MethodPost, "/api/auth/refresh", "", `{"refresh_token": "`+refresh+`"}`)
			require.Equal(t, http.StatusUnauthorized, resp.Status)
		})
	})

	t.Run("me", func(t *testing.T) {
		withAPI(t, func(api testAPI) {
			access, _ := api.login("alice", models.RoleLabEngineer)

			resp := api.do(http.MethodGet, "/api/auth/me", access, "")
			require.Equalf(t, http.StatusOK, resp.Status, "Body: %s", resp.Raw)
			assert.Equal(t, "lab_engg", resp.Body["token_role"])
			assert.Equal(t, "alice", resp.Body["user"].(map[string]any)["username"])

			resp = api.do(http.MethodGet, "/api/auth/me", "", "")
			require.Equal(t, http.StatusUnauthorized, resp.Status)
			assert.Equal(t, "missing_credential", resp.Body["error"])

			resp = api.do(http.MethodGet, "/api/auth/me", access+"x", "")
			require.Equal(t, http.StatusUnauthorized, resp.Status)
			assert.Equal(t, "invalid_token", resp.Body["error"])
		})
	})

	t.Run("change password", func(t *testing.T) {
		withAPI(t, func(api testAPI) {
			access, refresh := api.login("alice", models.RoleLabEngineer)

			resp := api.do(http.MethodPut, "/api/auth/password", access, `{"current_password": "wrong", "new_password": "NewStrongPassword"}`)
			require.Equal(t, http.StatusUnauthorized, resp.Status)
			assert.Equal(t, "invalid_credentials", resp.Body["error"])

			resp = api.do(http.MethodPut, "/api/auth/password", access, `{"current_password": "pwd-alice", "new_password": "NewStrongPassword"}`)
			require.Equalf(t, http.StatusOK, resp.Status, "Body: %s", resp.Raw)

			resp = api.do(http.MethodPost, "/api/auth/refresh", "", `{"refresh_token": "`+refresh+`"}`)
			require.Equal(t, http.StatusUnauthorized, resp.Status, "sessions are revoked on password change")
			resp = api.do(http.MethodPost, "/api/auth/login", "", `{"login": "alice", "password": "NewStrongPassword"}`)
			require.Equal(t, http.StatusOK, resp.Status)
		})
	})

	t.Run("role gating", func(t *testing.T) {
		withAPI(t, func(api testAPI) {
			engineer, _ := api.login("engineer", models.RoleLabEngineer)
			coordinator, _ := api.login("coordinator", models.RoleProjectCoordinator)
			admin, _ := api.login("admin", models.RoleAdmin)

			tests := []struct {
				access string
				method string
				path   string
				body   string
				status int
			}{
				{engineer, http.MethodGet, "/api/auth/me", "", http.StatusOK},
				{engineer, http.MethodGet, "/api/users", "", http.StatusForbidden},
				{engineer, http.MethodPost, "/api/users", `{}`, http.StatusForbidden},
				{coordinator, http.MethodGet, "/api/users", "", http.StatusOK},
				{coordinator, http.MethodPost, "/api/users", `{}`, http.StatusForbidden},
				{admin, http.MethodGet, "/api/users", "", http.StatusOK},
				{admin, http.MethodPost, "/api/users", `{}`, http.StatusBadRequest},
			}

			for _, tt := range tests {
				resp := api.do(tt.method, tt.path, tt.access, tt.body)
				require.Equalf(t, tt.status, resp.Status, "%s %s. Body: %s", tt.method, tt.path, resp.Raw)
				if tt.status == http.StatusForbidden {
					assert.Equal(t, "forbidden", resp.Body["error"])
				}
			}
		})
	})

	t.Run("users management", func(t *testing.T) {
		withAPI(t, func(api testAPI) {
			admin, _ := api.login("admin", models.RoleAdmin)
			engineer, engineerRefresh := api.login("engineer", models.RoleLabEngineer)

			// Create welding coordinator
			resp := api.do(http.MethodPost, "/api/users", admin, `{"username": "welder", "email": "welder@lab.test", "password": "StrongEnoughPassword", "role": "welding_coordinator"}`)
			require.Equalf(t, http.StatusCreated, resp.Status, "Body: %s", resp.Raw)
			assert.Equal(t, "welding_coordinator", resp.Body["role"])
			welderID := resp.Body["id"].(string)

			resp = api.do(http.MethodPost, "/api/users", admin, `{"username": "janitor", "email": "janitor@lab.test", "password": "StrongEnoughPassword", "role": "janitor"}`)
			require.Equal(t, http.StatusBadRequest, resp.Status)
			assert.Equal(t, "Unknown role", resp.Body["fields"].(map[string]any)["role"])

			// Get and list
			resp = api.do(http.MethodGet, "/api/users/"+welderID, admin, "")
			require.Equal(t, http.StatusOK, resp.Status)
			assert.Equal(t, "welder", resp.Body["username"])

			resp = api.do(http.MethodGet, "/api/users/not-a-uuid", admin, "")
			require.Equal(t, http.StatusBadRequest, resp.Status)

			resp = api.do(http.MethodGet, "/api/users/00000000-0000-0000-0000-000000000001", admin, "")
			require.Equal(t, http.StatusNotFound, resp.Status)
			assert.Equal(t, "not_found", resp.Body["error"])

			resp = api.do(http.MethodGet, "/api/users?role=welding_coordinator", admin, "")
			require.Equal(t, http.StatusOK, resp.Status)
			var listed []map[string]any
			require.NoError(t, json.Unmarshal([]byte(resp.Raw), &listed))
			require.Len(t, listed, 1)

			resp = api.do(http.MethodGet, "/api/users?role=janitor&limit=0&active=maybe", admin, "")
			require.Equal(t, http.StatusBadRequest, resp.Status)
			assert.Len(t, resp.Body["fields"], 3)

			// Promoted engineer passes coordinator gate with the same access token
			resp = api.do(http.MethodGet, "/api/users", engineer, "")
			require.Equal(t, http.StatusForbidden, resp.Status)
			me := api.do(http.MethodGet, "/api/auth/me", engineer, "")
			engineerID := me.Body["user"].(map[string]any)["id"].(string)

			resp = api.do(http.MethodPatch, "/api/users/"+engineerID+"/role", admin, `{"role": "project_coordinator"}`)
			require.Equalf(t, http.StatusOK, resp.Status, "Body: %s", resp.Raw)
			resp = api.do(http.MethodGet, "/api/users", engineer, "")
			require.Equal(t, http.StatusOK, resp.Status, "role is taken from db, not from token")

			// Deactivated user is locked out at once
			resp = api.do(http.MethodPatch, "/api/users/"+engineerID+"/active", admin, `{"active": false}`)
			require.Equalf(t, http.StatusOK, resp.Status, "Body: %s", resp.Raw)
			assert.Equal(t, false, resp.Body["is_active"])

			resp = api.do(http.MethodGet, "/api/auth/me", engineer, "")
			require.Equal(t, http.StatusUnauthorized, resp.Status)
			assert.Equal(t, "account_deactivated", resp.Body["error"])
			resp = api.do(http.MethodPost, "/api/auth/refresh", "", `{"refresh_token": "`+engineerRefresh+`"}`)
			require.Equal(t, http.StatusUnauthorized, resp.Status, "refresh tokens are revoked on deactivation")

			resp = api.do(http.MethodPatch, "/api/users/"+engineerID+"/active", admin, `{}`)
			require.Equal(t, http.StatusBadRequest, resp.Status, "active flag is required")
		})
	})

	t.Run("health and metrics", func(t *testing.T) {
		withAPI(t, func(api testAPI) {
			resp := api.do(http.MethodGet, "/healthz", "", "")
			require.Equal(t, http.StatusOK, resp.Status)
			assert.JSONEq(t, `{"status": "ok"}`, resp.Raw)

			api.do(http.MethodGet, "/api/auth/me", "", "")

			resp = api.do(http.MethodGet, "/metrics", "", "")
			require.Equal(t, http.StatusOK, resp.Status)
			assert.Contains(t, resp.Raw, `labtrack_auth_gate_rejections_total{kind="missing_credential"} 1`)
		})
	})
}

func Test_Router_Debug(t *testing.T) {
	t.Parallel()

	router := NewRouter(brokenAuth{}, nil, logger.NewNoOpLogger(), Options{Debug: true, LoginRateLimit: 1})
	srv := httptest.NewServer(router)
	defer srv.Close()
	api := testAPI{t: t, url: srv.URL}

	resp := api.do(http.MethodPost, "/api/auth/login", "", `{"login": "alice", "password": "pwd"}`)
	require.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Equal(t, "internal_error", resp.Body["error"])
	assert.Equal(t, "db is down", resp.Body["detail"], "raw error is shown in debug mode")

	resp = api.do(http.MethodPost, "/api/auth/login", "", `{"login": "alice", "password": "pwd"}`)
	require.Equal(t, http.StatusTooManyRequests, resp.Status, "login is rate limited")

	resp = api.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusNotFound, resp.Status, "metrics are not served without registry")

	resp = api.do(http.MethodGet, "/api/auth/login", "", "")
	require.Equal(t, http.StatusMethodNotAllowed, resp.Status)
}
