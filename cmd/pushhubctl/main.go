// The pushhubctl binary is a small operator CLI for a running hub:
// registering a bootstrap listener, forcing content sweeps, and
// inspecting registries through the admin API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pushhub/pushhub/internal/netutil"
)

const usage = `usage: pushhubctl <command> [flags]

Commands:
  register-listener  -hub URL -callback URL
  fetch-all-topics   -hub URL -token TOKEN [-failed-only]
  show-topics        -hub URL -token TOKEN
  show-subscribers   -hub URL -token TOKEN
  show-listeners     -hub URL -token TOKEN

The admin token may also be supplied via PUSHHUB_ADMIN_TOKEN.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	hubURL := fs.String("hub", "http://localhost:6543", "base URL of the hub")
	token := fs.String("token", os.Getenv("PUSHHUB_ADMIN_TOKEN"), "admin API token")
	callback := fs.String("callback", "", "listener callback URL")
	failedOnly := fs.Bool("failed-only", false, "sweep only topics whose last fetch failed")
	_ = fs.Parse(os.Args[2:])

	client := netutil.NewHTTPClient(func() time.Duration { return 30 * time.Second })
	ctx := context.Background()
	base := strings.TrimRight(*hubURL, "/")

	var err error
	switch cmd {
	case "register-listener":
		err = registerListener(ctx, client, base, *callback)
	case "fetch-all-topics":
		err = fetchAllTopics(ctx, client, base, *token, *failedOnly)
	case "show-topics":
		err = showPage(ctx, client, base+"/api/v1/topics", *token)
	case "show-subscribers":
		err = showPage(ctx, client, base+"/api/v1/subscribers", *token)
	case "show-listeners":
		err = showPage(ctx, client, base+"/api/v1/listeners", *token)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pushhubctl: %v\n", err)
		os.Exit(1)
	}
}

func registerListener(ctx context.Context, client netutil.Client, base, callback string) error {
	if callback == "" {
		return fmt.Errorf("register-listener requires -callback")
	}
	resp, err := client.PostForm(ctx, base+"/listen", url.Values{
		"listener.callback": {callback},
	}, nil)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("hub answered %d: %s", resp.StatusCode, strings.TrimSpace(string(resp.Body)))
	}
	fmt.Printf("Registered listener for %s\n", callback)
	return nil
}

func fetchAllTopics(ctx context.Context, client netutil.Client, base, token string, failedOnly bool) error {
	target := base + "/api/v1/actions/fetch-all"
	if failedOnly {
		target += "?only_failed=true"
	}
	resp, err := client.Post(ctx, target, nil, adminHeader(token))
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("hub answered %d: %s", resp.StatusCode, strings.TrimSpace(string(resp.Body)))
	}
	var result struct {
		Scanned int `json:"scanned"`
		Failed  int `json:"failed"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return fmt.Errorf("decode sweep result: %w", err)
	}
	fmt.Printf("Fetched %d topics, %d failing\n", result.Scanned, result.Failed)
	return nil
}

func showPage(ctx context.Context, client netutil.Client, target, token string) error {
	resp, err := client.Get(ctx, target+"?limit=100000", adminHeader(token))
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("hub answered %d: %s", resp.StatusCode, strings.TrimSpace(string(resp.Body)))
	}

	var pretty map[string]any
	if err := json.Unmarshal(resp.Body, &pretty); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func adminHeader(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}
