package webapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"groupkeeper/internal/economy"
	"groupkeeper/internal/logging"
	"groupkeeper/internal/repo"
	"groupkeeper/internal/repo/repotest"
	"groupkeeper/internal/settings"
)

const testToken = "123456:test-token"

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func signedInitData(t *testing.T, userID int64, authDate time.Time) string {
	t.Helper()
	user, err := json.Marshal(WebAppUser{ID: userID, FirstName: "Ann", Username: "ann"})
	if err != nil {
		t.Fatalf("marshal user: %v", err)
	}
	values := url.Values{}
	values.Set("query_id", "AAE1")
	values.Set("user", string(user))
	values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	values.Set("hash", Sign(values, testToken))
	return values.Encode()
}

func TestValidateAcceptsSignedData(t *testing.T) {
	raw := signedInitData(t, 42, testNow.Add(-time.Minute))
	got, err := Validate(raw, testToken, time.Hour, testNow)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.User.ID != 42 || got.User.Username != "ann" || got.QueryID != "AAE1" {
		t.Fatalf("unexpected init data %+v", got)
	}
}

func TestValidateRejectsForgery(t *testing.T) {
	raw := signedInitData(t, 42, testNow)

	if _, err := Validate(raw, "other-token", time.Hour, testNow); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong token: expected ErrUnauthorized, got %v", err)
	}

	tampered := strings.Replace(raw, "42", "43", 1)
	if _, err := Validate(tampered, testToken, time.Hour, testNow); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("tampered user: expected ErrUnauthorized, got %v", err)
	}

	if _, err := Validate("auth_date=1", testToken, time.Hour, testNow); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("missing hash: expected ErrUnauthorized, got %v", err)
	}
}

func TestValidateRejectsStaleData(t *testing.T) {
	raw := signedInitData(t, 42, testNow.Add(-2*time.Hour))
	if _, err := Validate(raw, testToken, time.Hour, testNow); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := Validate(raw, testToken, 0, testNow); err != nil {
		t.Fatalf("zero max age must skip the age check: %v", err)
	}
}

type fixture struct {
	handler *Handler
	rewards *economy.Engine
	ledger  *economy.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r := repotest.SQLite(t)
	st := settings.New(r, logging.Discard())
	now := func() time.Time { return testNow }
	ledger := economy.NewLedger(r, st, nil, logging.Discard(), now)
	rewards := economy.NewEngine(r, st, nil, logging.Discard(), func() float64 { return 0 })
	h := NewHandler(rewards, ledger, Config{BotToken: testToken, MaxAge: time.Hour, Now: now}, logging.Discard(), nil)
	return &fixture{handler: h, rewards: rewards, ledger: ledger}
}

func (f *fixture) spin(t *testing.T, initData string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(spinRequest{InitData: initData})
	req := httptest.NewRequest(http.MethodPost, "/api/spin", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestWheelData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.rewards.CreateEntry(ctx, economy.EntryInput{Name: "Hoodie", Kind: repo.KindLottery, Cost: 1, Chance: 0.25, Stock: 2}); err != nil {
		t.Fatalf("create entry: %v", err)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/wheel_data", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var items []economy.WheelSlice
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("wheel data must be a bare JSON array: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected prize plus no-win slice, got %+v", items)
	}
	if items[1].ID != economy.NoWinID || items[1].Chance != 0.75 {
		t.Fatalf("unexpected no-win slice %+v", items[1])
	}

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/wheel_data", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestSpinWinsAndDebits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry, err := f.rewards.CreateEntry(ctx, economy.EntryInput{Name: "Hoodie", Kind: repo.KindLottery, Cost: 1, Chance: 0.5, Stock: 2})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if err := f.ledger.GrantVouchers(ctx, 42, 2); err != nil {
		t.Fatalf("grant vouchers: %v", err)
	}

	rec := f.spin(t, signedInitData(t, 42, testNow))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp spinResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Outcome != economy.OutcomeWin || resp.PrizeID != entry.ID || resp.Vouchers != 1 {
		t.Fatalf("unexpected spin response %+v", resp)
	}

	a, err := f.ledger.Account(ctx, 42)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if a.Username != "ann" {
		t.Fatalf("spin must refresh the profile, got %q", a.Username)
	}
}

func TestSpinWithoutVouchers(t *testing.T) {
	f := newFixture(t)
	if _, err := f.rewards.CreateEntry(context.Background(), economy.EntryInput{Name: "Hoodie", Kind: repo.KindLottery, Cost: 1, Chance: 0.5, Stock: 2}); err != nil {
		t.Fatalf("create entry: %v", err)
	}

	rec := f.spin(t, signedInitData(t, 7, testNow))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp spinResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Outcome != economy.OutcomeInsufficientFunds || resp.PrizeID != economy.NoWinID {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestSpinAuth(t *testing.T) {
	f := newFixture(t)

	if rec := f.spin(t, "hash=00&auth_date=1"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged data: expected 401, got %d", rec.Code)
	}
	if rec := f.spin(t, signedInitData(t, 42, testNow.Add(-3*time.Hour))); rec.Code != http.StatusForbidden {
		t.Fatalf("stale data: expected 403, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/spin", nil)
	req.Header.Set(initDataHeader, signedInitData(t, 42, testNow))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code == http.StatusUnauthorized || rec.Code == http.StatusForbidden {
		t.Fatalf("header init data must authenticate, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/spin", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
