package commands

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/lendkey/accessbot/internal/config"
	"github.com/lendkey/accessbot/internal/gateway"
	"github.com/lendkey/accessbot/internal/grant"
)

type staticPending []grant.Request

func (s staticPending) ListPending() []grant.Request { return s }

func TestGatewayURL(t *testing.T) {
	cases := []struct {
		cfg  config.GatewayConfig
		want string
	}{
		{config.GatewayConfig{Host: "0.0.0.0", Port: 18791}, "http://127.0.0.1:18791"},
		{config.GatewayConfig{Host: "", Port: 0}, "http://127.0.0.1:18791"},
		{config.GatewayConfig{Host: "10.0.0.5", Port: 9000}, "http://10.0.0.5:9000"},
	}
	for _, tc := range cases {
		if got := gatewayURL(tc.cfg); got != tc.want {
			t.Fatalf("gatewayURL(%+v) = %q, want %q", tc.cfg, got, tc.want)
		}
	}
}

func TestPendingCommand_ListsRequests(t *testing.T) {
	isolateHome(t)

	now := time.Now()
	srv := httptest.NewServer(gateway.NewHandler("secret", staticPending{
		{
			ID:              "ABCD",
			Kind:            grant.KindResource,
			Target:          grant.Target{Name: "prod-db"},
			Account:         grant.Account{Email: "alice@example.com"},
			RequesterHandle: "@alice",
			Deadline:        now.Add(30 * time.Minute),
			Flags:           grant.Flags{grant.FlagReason: "incident 42"},
		},
		{
			ID:              "WXYZ",
			Kind:            grant.KindRole,
			Target:          grant.Target{Name: "oncall"},
			Account:         grant.Account{Email: "bob@example.com"},
			RequesterHandle: "@bob",
			Deadline:        now.Add(time.Hour),
		},
	}, nil))
	defer srv.Close()

	cmd := NewPendingCmd()
	if err := cmd.Flags().Set("url", srv.URL); err != nil {
		t.Fatalf("set url: %v", err)
	}
	if err := cmd.Flags().Set("token", "secret"); err != nil {
		t.Fatalf("set token: %v", err)
	}

	out := stripANSI(captureOutput(t, func() {
		if err := runPending(cmd, nil); err != nil {
			t.Fatalf("runPending error: %v", err)
		}
	}))

	for _, want := range []string{"Pending Requests (2)", "ABCD", "prod-db", "alice@example.com", "reason: incident 42", "WXYZ", "role:oncall"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got: %s", want, out)
		}
	}
}

func TestPendingCommand_Errors(t *testing.T) {
	isolateHome(t)

	srv := httptest.NewServer(gateway.NewHandler("secret", staticPending{}, nil))
	defer srv.Close()

	cmd := &cobra.Command{}
	cmd.Flags().String("url", srv.URL, "")
	cmd.Flags().String("token", "wrong", "")
	if err := runPending(cmd, nil); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}

func TestPrintPending_Empty(t *testing.T) {
	out := captureOutput(t, func() { printPending(nil, time.Now()) })
	if !strings.Contains(out, "No pending requests.") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestExpiresIn(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		deadline time.Time
		want     string
	}{
		{time.Time{}, "-"},
		{now.Add(-time.Second), "due"},
		{now.Add(20 * time.Second), "<1m"},
		{now.Add(90 * time.Minute), "1h30m0s"},
	}
	for _, tc := range cases {
		if got := expiresIn(tc.deadline, now); got != tc.want {
			t.Fatalf("expiresIn(%v) = %q, want %q", tc.deadline, got, tc.want)
		}
	}
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Fatalf("truncate = %q", got)
	}
}
