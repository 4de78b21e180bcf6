package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardvault/bankcards/internal/config"
	"github.com/cardvault/bankcards/internal/logging"
	"github.com/cardvault/bankcards/internal/middleware"
)

const testSecret = "server-test-secret"

func testConfig() config.Config {
	return config.Config{
		AppName:         "BankCards",
		Env:             "test",
		Port:            "0",
		JWTSecret:       testSecret,
		IdempotencyTTL:  time.Minute,
		CardLockTimeout: time.Second,
		ExpirySweepCron: "0 0 * * *",
		TransferRate:    100,
		BootstrapAdmin:  "ops@bank.test",
		Rules:           config.DefaultBusinessRules(),
	}
}

func token(t *testing.T, email, role string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func call(t *testing.T, app *fiber.App, method, path, bearer, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+bearer)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestCardFlowOverHTTP(t *testing.T) {
	srv, err := New(testConfig(), nil, nil, logging.Discard())
	require.NoError(t, err)
	app := srv.App()

	admin := token(t, "ops@bank.test", "ADMIN")
	status, holder := call(t, app, http.MethodPost, "/api/v1/users", admin, `{"email":"alice@bank.test","full_name":"Alice"}`)
	require.Equal(t, http.StatusCreated, status)
	holderID := holder["user_id"].(string)
	alice := token(t, "alice@bank.test", "USER")
	expiry := time.Now().AddDate(2, 0, 0).Format("01/06")

	status, a := call(t, app, http.MethodPost, "/api/v1/cards", admin,
		`{"user_id":"`+holderID+`","pan":"4111111111111111","owner_name":"ALICE","expiry_date":"`+expiry+`","initial_balance":"100.00"}`)
	require.Equal(t, http.StatusCreated, status, a)
	assert.Equal(t, "**** **** **** 1111", a["masked_pan"])

	status, b := call(t, app, http.MethodPost, "/api/v1/cards", admin,
		`{"user_id":"`+holderID+`","pan":"5555555555554444","owner_name":"ALICE","expiry_date":"`+expiry+`","initial_balance":"0"}`)
	require.Equal(t, http.StatusCreated, status, b)

	status, _ = call(t, app, http.MethodPost, "/api/v1/cards/transfers", alice,
		`{"from_card_id":"`+a["id"].(string)+`","to_card_id":"`+b["id"].(string)+`","amount":"30.00"}`)
	require.Equal(t, http.StatusOK, status)

	status, problem := call(t, app, http.MethodPost, "/api/v1/cards/transfers", alice,
		`{"from_card_id":"`+a["id"].(string)+`","to_card_id":"`+b["id"].(string)+`","amount":"500.00"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Validation Failed", problem["title"])
	assert.EqualValues(t, http.StatusBadRequest, problem["status"])

	status, page := call(t, app, http.MethodGet, "/api/v1/cards/my/filtered?size=1", alice, "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, page["total_elements"])
	assert.EqualValues(t, 2, page["total_pages"])

	status, trail := call(t, app, http.MethodGet, "/api/v1/audit/cards/"+a["id"].(string), alice, "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3, trail["total_elements"])

	status, _ = call(t, app, http.MethodGet, "/api/v1/audit/users/"+holderID, alice, "")
	assert.Equal(t, http.StatusForbidden, status)

	status, users := call(t, app, http.MethodGet, "/api/v1/users/paged?size=1", admin, "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, users["total_elements"])

	status, problem = call(t, app, http.MethodDelete, "/api/v1/users/"+holderID, admin, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "user still holds cards", problem["detail"])

	status, _ = call(t, app, http.MethodGet, "/api/v1/users/"+holderID, alice, "")
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(t, app, http.MethodGet, "/api/v1/cards/admin/all", alice, "")
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = call(t, app, http.MethodGet, "/api/v1/cards/my", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, health := call(t, app, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"postgres": "disabled", "redis": "disabled"}, health["status"])
}

func TestNewRequiresKeyOutsideDevelopment(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	_, err := New(cfg, nil, nil, logging.Discard())
	assert.Error(t, err)
}

func TestErrorHandlerHidesInternalDetail(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Get("/", func(c *fiber.Ctx) error { return errors.New("pq: connection refused at 10.0.0.3") })

	status, body := call(t, app, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal server error", body["detail"])
}
