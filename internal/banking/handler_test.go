package banking

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardvault/bankcards/internal/card"
	"github.com/cardvault/bankcards/internal/cardcrypto"
	"github.com/cardvault/bankcards/internal/identity"
)

func newTestApp(f *fixture, as *identity.Principal) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if as != nil {
			identity.SetPrincipal(c, *as)
		}
		return c.Next()
	})
	h := NewHandler(f.svc)
	app.Post("/cards", h.Create)
	app.Get("/cards/my", h.MyCardsFiltered)
	app.Get("/cards/all", h.AllCards)
	app.Get("/cards/:id", h.Get)
	app.Put("/cards/:id/status", h.UpdateStatus)
	app.Post("/cards/:id/block", h.RequestBlock)
	app.Delete("/cards/:id", h.Delete)
	app.Post("/transfers", h.Transfer)
	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

func TestHandlerCreateCard(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f, &f.admin)
	pan := f.pan()

	resp, body := do(t, app, http.MethodPost, "/cards",
		`{"user_id":"`+f.alice.UserID+`","pan":"`+pan+`","owner_name":"ALICE","expiry_date":"12/27","initial_balance":"25.50"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.NotContains(t, body, pan)

	var view CardView
	require.NoError(t, json.Unmarshal([]byte(body), &view))
	assert.Equal(t, "**** **** **** "+pan[12:], view.MaskedPAN)
	assert.Equal(t, card.StatusActive, view.Status)

	resp, _ = do(t, app, http.MethodPost, "/cards",
		`{"user_id":"`+f.alice.UserID+`","pan":"1234","owner_name":"ALICE","expiry_date":"12/27","initial_balance":"0"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, app, http.MethodPost, "/cards",
		`{"user_id":"`+f.alice.UserID+`","pan":"`+pan+`","owner_name":"ALICE","expiry_date":"12/27","initial_balance":"0"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerCreateCardRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f, &f.alice)

	resp, _ := do(t, app, http.MethodPost, "/cards",
		`{"user_id":"`+f.alice.UserID+`","pan":"`+f.pan()+`","owner_name":"ALICE","expiry_date":"12/27","initial_balance":"0"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandlerRequiresPrincipal(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f, nil)

	resp, _ := do(t, app, http.MethodGet, "/cards/my", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerTransfer(t *testing.T) {
	f := newFixture(t)
	a := f.issue(t, f.alice, "100.00")
	b := f.issue(t, f.alice, "0.00")
	app := newTestApp(f, &f.alice)

	resp, body := do(t, app, http.MethodPost, "/transfers",
		`{"from_card_id":"`+a.ID+`","to_card_id":"`+b.ID+`","amount":"40.00"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.True(t, f.balance(t, b.ID).Equal(dec("40.00")))

	resp, _ = do(t, app, http.MethodPost, "/transfers",
		`{"from_card_id":"`+a.ID+`","to_card_id":"`+b.ID+`","amount":"100.00"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, app, http.MethodPost, "/transfers",
		`{"from_card_id":"`+a.ID+`","to_card_id":"`+b.ID+`","amount":"0"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, app, http.MethodPost, "/transfers",
		`{"from_card_id":"`+a.ID+`","to_card_id":"missing","amount":"1.00"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	c := f.issue(t, f.bob, "10.00")
	resp, _ = do(t, app, http.MethodPost, "/transfers",
		`{"from_card_id":"`+c.ID+`","to_card_id":"`+b.ID+`","amount":"1.00"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandlerListAndBlock(t *testing.T) {
	f := newFixture(t)
	a := f.issue(t, f.alice, "0.00")
	f.issue(t, f.alice, "0.00")
	app := newTestApp(f, &f.alice)

	resp, body := do(t, app, http.MethodPost, "/cards/"+a.ID+"/block", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	resp, body = do(t, app, http.MethodGet, "/cards/my?status=blocked&page=0&size=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var page CardPage
	require.NoError(t, json.Unmarshal([]byte(body), &page))
	require.Len(t, page.Content, 1)
	assert.Equal(t, a.ID, page.Content[0].ID)
	assert.Equal(t, 5, page.Size)

	resp, _ = do(t, app, http.MethodGet, "/cards/my?status=LOST", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, app, http.MethodGet, "/cards/all", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandlerStatusAndDelete(t *testing.T) {
	f := newFixture(t)
	v := f.issue(t, f.alice, "0.00")
	app := newTestApp(f, &f.admin)

	resp, _ := do(t, app, http.MethodPut, "/cards/"+v.ID+"/status", `{"status":"FROZEN"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, app, http.MethodDelete, "/cards/"+v.ID, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, app, http.MethodPut, "/cards/"+v.ID+"/status", `{"status":"BLOCKED"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	resp, _ = do(t, app, http.MethodDelete, "/cards/"+v.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, app, http.MethodGet, "/cards/"+v.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPErrorContentionSetsRetryAfter(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return HTTPError(c, card.ErrContention)
	})
	resp, _ := do(t, app, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get(fiber.HeaderRetryAfter))
}

func TestHTTPErrorPassesCryptoFailuresThrough(t *testing.T) {
	var seen error
	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		seen = err
		return c.SendStatus(http.StatusInternalServerError)
	}})
	app.Get("/", func(c *fiber.Ctx) error {
		return HTTPError(c, fmt.Errorf("decrypt card: %w", cardcrypto.ErrIntegrity))
	})

	resp, _ := do(t, app, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.ErrorIs(t, seen, cardcrypto.ErrIntegrity)
	var fe *fiber.Error
	assert.False(t, errors.As(seen, &fe))
}
