package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgcrypto "github.com/and161185/gt-lab/internal/crypto"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "gtlab")
}

func Test_cfgDir_And_Paths(t *testing.T) {
	base := withTmpConfig(t)
	if got := cfgDir(); got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if tokenPath("admin") == tokenPath("user") {
		t.Fatalf("admin and user sessions must not share a file")
	}
	if !strings.HasPrefix(tokenPath("user"), base) || !strings.HasSuffix(tokenPath("user"), "token-user.json") {
		t.Fatalf("tokenPath unexpected: %s", tokenPath("user"))
	}
}

func Test_token_SaveLoadRemove(t *testing.T) {
	_ = withTmpConfig(t)

	if _, err := loadToken("user"); !errors.Is(err, errLoginRequired) {
		t.Fatalf("expected login required when token file missing, got %v", err)
	}
	if err := saveToken("user", tokenFile{Email: "u@x.com", AccessToken: "tok", ExpiresAt: time.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	tf, err := loadToken("user")
	if err != nil || tf.AccessToken != "tok" || tf.Email != "u@x.com" {
		t.Fatalf("loadToken: %+v err=%v", tf, err)
	}
	fi, err := os.Stat(tokenPath("user"))
	if err != nil || fi.Mode().Perm() != 0o600 {
		t.Fatalf("token file perms: %v %v", fi, err)
	}

	if err := saveToken("user", tokenFile{Email: "u@x.com", AccessToken: "tok2", ExpiresAt: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("saveToken expired: %v", err)
	}
	if _, err := loadToken("user"); !errors.Is(err, errLoginRequired) {
		t.Fatalf("want login required for expired token, got %v", err)
	}

	if err := removeToken("user"); err != nil {
		t.Fatalf("removeToken: %v", err)
	}
	if err := removeToken("user"); err != nil {
		t.Fatalf("removeToken twice: %v", err)
	}
}

func Test_printJSON_WritesPretty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printJSON(&buf, map[string]any{"a": 1})
	var m map[string]any
	if json.Unmarshal(buf.Bytes(), &m) != nil || m["a"] != float64(1) {
		t.Fatalf("printJSON produced invalid json: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Fatalf("printJSON should indent")
	}
}

// fakeAPI accepts the challenge of one account and serves the guarded routes.
func fakeAPI(t *testing.T, email, secret string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/admin/auth", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email     string `json:"email"`
			Date      string `json:"date"`
			AuthToken string `json:"auth_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		ts, err := pkgcrypto.ParseClientTime(req.Date)
		if err != nil || req.Email != email || pkgcrypto.ChallengeDigest(secret, email, ts) != req.AuthToken {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"messages":["invalid challenge"]}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"issued","ttl":3600000}`))
	})
	guarded := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Auth-Email") != email || r.Header.Get("Authorization") != "Bearer issued" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"messages":["invalid or expired token"]}`))
				return
			}
			h(w, r)
		}
	}
	mux.HandleFunc("/api/admin/users", guarded(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"email":"u@x.com","first_name":"U"}]`))
	}))
	mux.HandleFunc("/api/admin/new-user", guarded(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserEmail string `json:"user_email"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.UserEmail == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"messages":["No user email provided"]}`))
			return
		}
		_, _ = w.Write([]byte(`{"registration_token":"AbCdEfGhIjKlMnOp","ttl":21600000}`))
	}))
	mux.HandleFunc("/api/admin/logout", guarded(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"revoked":true}`))
	}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func Test_run_LoginAndGuardedCommands(t *testing.T) {
	_ = withTmpConfig(t)
	srv := fakeAPI(t, "a@b.com", "s3cret")
	c := newClient(srv.URL+"/", "admin")
	ctx := context.Background()
	var out bytes.Buffer

	if err := run(ctx, c, "users", nil, &out); !errors.Is(err, errLoginRequired) {
		t.Fatalf("users before login: %v", err)
	}

	if err := run(ctx, c, "login", []string{"-email", " A@B.com ", "-secret", "wrong"}, &out); err == nil {
		t.Fatalf("login with a wrong secret must fail")
	} else {
		var ae *apiError
		if !errors.As(err, &ae) || ae.Status != http.StatusUnauthorized || ae.Messages[0] != "invalid challenge" {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if err := run(ctx, c, "login", []string{"-email", " A@B.com ", "-secret", "s3cret"}, &out); err != nil {
		t.Fatalf("login: %v", err)
	}
	tf, err := loadToken("admin")
	if err != nil || tf.AccessToken != "issued" || tf.Email != "a@b.com" {
		t.Fatalf("saved token: %+v %v", tf, err)
	}
	if d := time.Until(tf.ExpiresAt); d < 59*time.Minute || d > time.Hour {
		t.Fatalf("expiry not derived from ttl: %v", d)
	}

	out.Reset()
	if err := run(ctx, c, "users", nil, &out); err != nil {
		t.Fatalf("users: %v", err)
	}
	if !strings.Contains(out.String(), `"email": "u@x.com"`) {
		t.Fatalf("users output: %s", out.String())
	}

	out.Reset()
	if err := run(ctx, c, "new-user", []string{"-email", "new@x.com"}, &out); err != nil {
		t.Fatalf("new-user: %v", err)
	}
	if !strings.Contains(out.String(), "AbCdEfGhIjKlMnOp") {
		t.Fatalf("new-user output: %s", out.String())
	}
	if err := run(ctx, c, "new-user", nil, &out); err == nil || !strings.Contains(err.Error(), "No user email provided") {
		t.Fatalf("new-user without email: %v", err)
	}

	if err := run(ctx, c, "logout", nil, &out); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := loadToken("admin"); !errors.Is(err, errLoginRequired) {
		t.Fatalf("token must be removed after logout: %v", err)
	}
}

func Test_run_UnknownCommandAndMissingFlags(t *testing.T) {
	_ = withTmpConfig(t)
	c := newClient("http://127.0.0.1:1", "admin")
	if err := saveToken("admin", tokenFile{Email: "a@b.com", AccessToken: "t", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	var out bytes.Buffer
	if err := run(context.Background(), c, "login", nil, &out); err == nil {
		t.Fatalf("login without flags must fail")
	}
	if err := run(context.Background(), c, "user", nil, &out); err == nil {
		t.Fatalf("user without -email must fail")
	}
	if err := run(context.Background(), c, "fly", nil, &out); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("unknown command: %v", err)
	}
}

func Test_apiError_Message(t *testing.T) {
	t.Parallel()
	e := &apiError{Status: 400, Messages: []string{"No email provided", "No date provided"}}
	if e.Error() != "status 400: No email provided; No date provided" {
		t.Fatalf("unexpected message: %s", e.Error())
	}
}
