// Command gtl is a CLI client for the gt-lab API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ---- config/token store ----

type tokenFile struct {
	Email       string    `json:"email"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

var errLoginRequired = errors.New("no valid token (login required)")

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "gtlab")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "gtlab")
}

// tokenPath keeps admin and user sessions apart.
func tokenPath(kind string) string { return filepath.Join(cfgDir(), "token-"+kind+".json") }

func saveToken(kind string, tf tokenFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(tokenPath(kind), b, 0o600)
}

func loadToken(kind string) (tokenFile, error) {
	var tf tokenFile
	b, err := os.ReadFile(tokenPath(kind))
	if err != nil {
		return tf, errLoginRequired
	}
	if err := json.Unmarshal(b, &tf); err != nil {
		return tf, err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return tf, errLoginRequired
	}
	return tf, nil
}

func removeToken(kind string) error {
	err := os.Remove(tokenPath(kind))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ---- utils ----

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `gtl CLI
Usage:
  gtl -addr URL [-kind admin|user] <cmd> [args]

Commands:
  version
  login      -email <email> -secret <secret>     (saves token)
  logout
  users                                          (admin)
  user       -email <email>                      (admin)
  new-user   -email <email>                      (admin)
  driving    -from <RFC3339> -to <RFC3339> [-vehicle <id>]   (user)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses global flags and dispatches the subcommand.
func main() {
	addr := flag.String("addr", "http://localhost:4000", "server base URL")
	kind := flag.String("kind", "user", "principal kind: admin or user")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	if flag.Arg(0) == "version" {
		fmt.Printf("gtl %s (%s)\n", version, buildDate)
		return
	}
	if *kind != "admin" && *kind != "user" {
		usage()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := newClient(*addr, *kind)
	if err := run(ctx, c, flag.Arg(0), flag.Args()[1:], os.Stdout); err != nil {
		fail(err)
	}
}

func fail(err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		fmt.Fprintf(os.Stderr, "api error: status=%d msg=%s\n", ae.Status, ae.joined())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
