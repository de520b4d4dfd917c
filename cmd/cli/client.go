package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/and161185/gt-lab/internal/convert"
	pkgcrypto "github.com/and161185/gt-lab/internal/crypto"
	"github.com/and161185/gt-lab/internal/model"
)

// apiError is a non-2xx response decoded from the {"messages": [...]} envelope.
type apiError struct {
	Status   int
	Messages []string
}

func (e *apiError) joined() string { return strings.Join(e.Messages, "; ") }

func (e *apiError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.joined())
}

type apiClient struct {
	base string
	kind string
	http *retryablehttp.Client
}

func newClient(addr, kind string) *apiClient {
	hc := retryablehttp.NewClient()
	hc.Logger = nil
	hc.RetryMax = 2
	hc.RetryWaitMin = 100 * time.Millisecond
	hc.RetryWaitMax = time.Second
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &apiClient{base: strings.TrimRight(addr, "/"), kind: kind, http: hc}
}

func (c *apiClient) endpoint(path string) string {
	return c.base + "/api/" + c.kind + path
}

// do sends body as JSON with the session's credentials (if any) and decodes a 2xx response into out.
func (c *apiClient) do(ctx context.Context, method, path string, tf *tokenFile, body, out any) error {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return err
		}
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.endpoint(path), raw)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tf != nil {
		req.Header.Set("X-Auth-Email", tf.Email)
		req.Header.Set("Authorization", "Bearer "+tf.AccessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		ae := &apiError{Status: resp.StatusCode}
		var ev convert.ErrorView
		if json.Unmarshal(b, &ev) == nil && len(ev.Messages) > 0 {
			ae.Messages = ev.Messages
		} else {
			ae.Messages = []string{http.StatusText(resp.StatusCode)}
		}
		return ae
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(b, out)
}

// login signs a fresh challenge with secret and stores the issued token.
func (c *apiClient) login(ctx context.Context, email, secret string, now time.Time) (tokenFile, error) {
	id := model.NormalizeIdentifier(email)
	req := map[string]string{
		"email":      id,
		"date":       pkgcrypto.CanonicalTime(now),
		"auth_token": pkgcrypto.ChallengeDigest(secret, id, now),
	}
	var view convert.AccessTokenView
	if err := c.do(ctx, http.MethodPost, "/auth", nil, req, &view); err != nil {
		return tokenFile{}, err
	}
	tf := tokenFile{
		Email:       id,
		AccessToken: view.AccessToken,
		ExpiresAt:   now.Add(time.Duration(view.TTL) * time.Millisecond),
	}
	return tf, saveToken(c.kind, tf)
}

func parseFlags(name string, args []string, define func(fs *flag.FlagSet)) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	define(fs)
	return fs.Parse(args)
}

// run executes one subcommand and prints its result to out.
func run(ctx context.Context, c *apiClient, cmd string, args []string, out io.Writer) error {
	if cmd == "login" {
		var email, secret string
		if err := parseFlags(cmd, args, func(fs *flag.FlagSet) {
			fs.StringVar(&email, "email", "", "account email")
			fs.StringVar(&secret, "secret", "", "account secret")
		}); err != nil {
			return err
		}
		if email == "" || secret == "" {
			return errors.New("need -email and -secret")
		}
		tf, err := c.login(ctx, email, secret, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "ok (expires %s)\n", tf.ExpiresAt.Format(time.RFC3339))
		return nil
	}

	tf, err := loadToken(c.kind)
	if err != nil {
		return err
	}

	switch cmd {
	case "logout":
		if err := c.do(ctx, http.MethodPost, "/logout", &tf, nil, nil); err != nil {
			return err
		}
		if err := removeToken(c.kind); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")

	case "users":
		var users []convert.UserView
		if err := c.do(ctx, http.MethodGet, "/users", &tf, nil, &users); err != nil {
			return err
		}
		printJSON(out, users)

	case "user":
		var email string
		if err := parseFlags(cmd, args, func(fs *flag.FlagSet) {
			fs.StringVar(&email, "email", "", "user email")
		}); err != nil {
			return err
		}
		if email == "" {
			return errors.New("need -email")
		}
		var u convert.UserView
		if err := c.do(ctx, http.MethodGet, "/user/"+url.PathEscape(email), &tf, nil, &u); err != nil {
			return err
		}
		printJSON(out, u)

	case "new-user":
		var email string
		if err := parseFlags(cmd, args, func(fs *flag.FlagSet) {
			fs.StringVar(&email, "email", "", "email of the user to register")
		}); err != nil {
			return err
		}
		var reg convert.RegistrationView
		if err := c.do(ctx, http.MethodPost, "/new-user", &tf, map[string]string{"user_email": email}, &reg); err != nil {
			return err
		}
		printJSON(out, reg)

	case "driving":
		var from, to, vehicle string
		if err := parseFlags(cmd, args, func(fs *flag.FlagSet) {
			fs.StringVar(&from, "from", "", "range start (RFC3339)")
			fs.StringVar(&to, "to", "", "range end (RFC3339)")
			fs.StringVar(&vehicle, "vehicle", "", "vehicle id")
		}); err != nil {
			return err
		}
		q := url.Values{"from": {from}, "to": {to}}
		if vehicle != "" {
			q.Set("vehicle", vehicle)
		}
		var data json.RawMessage
		if err := c.do(ctx, http.MethodGet, "/geotab-data?"+q.Encode(), &tf, nil, &data); err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return err
		}
		fmt.Fprintln(out, buf.String())

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
