package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/lendkey/accessbot/internal/config"
	"github.com/lendkey/accessbot/internal/gateway"
	"github.com/spf13/cobra"
)

func NewPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List grant requests waiting for an admin decision",
		RunE:  runPending,
	}
	cmd.Flags().String("url", "", "Gateway base URL (default from config)")
	cmd.Flags().String("token", "", "Gateway bearer token (default from config)")
	return cmd
}

func runPending(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	baseURL, token := gatewayURL(cfg.Gateway), cfg.Gateway.Token
	if cmd != nil {
		if v, _ := cmd.Flags().GetString("url"); strings.TrimSpace(v) != "" {
			baseURL = v
		}
		if v, _ := cmd.Flags().GetString("token"); strings.TrimSpace(v) != "" {
			token = v
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := gateway.NewClient(baseURL, token).Pending(ctx)
	if err != nil {
		return fmt.Errorf("is 'accessbot run' running? %w", err)
	}
	printPending(resp.Pending, time.Now())
	return nil
}

// gatewayURL turns the listen address into one a local client can dial.
func gatewayURL(cfg config.GatewayConfig) string {
	host := strings.TrimSpace(cfg.Host)
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 18791
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

func printPending(items []gateway.PendingItem, now time.Time) {
	if len(items) == 0 {
		fmt.Println("No pending requests.")
		return
	}

	var (
		wID        = 6
		wTarget    = 24
		wAccount   = 28
		wRequester = 16
		wExpires   = 10

		colHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#8E4EC6")).
				Bold(true).
				MarginRight(1)

		idStyle      = lipgloss.NewStyle().Bold(true).Width(wID).MarginRight(1)
		targetStyle  = lipgloss.NewStyle().Width(wTarget).MarginRight(1)
		accountStyle = lipgloss.NewStyle().Width(wAccount).MarginRight(1)
		reqStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(wRequester).MarginRight(1)
		expiresStyle = lipgloss.NewStyle().Width(wExpires).MarginRight(1)
		roleColor    = lipgloss.Color("#D2691E")
	)

	fmt.Println(titleStyle.Render(fmt.Sprintf("Pending Requests (%d)", len(items))))

	headers := lipgloss.JoinHorizontal(lipgloss.Top,
		colHeaderStyle.Width(wID).Render("ID"),
		colHeaderStyle.Width(wTarget).Render("TARGET"),
		colHeaderStyle.Width(wAccount).Render("ACCOUNT"),
		colHeaderStyle.Width(wRequester).Render("REQUESTER"),
		colHeaderStyle.Width(wExpires).Render("EXPIRES"),
	)
	fmt.Printf("  %s\n", headers)

	sepStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginRight(1)
	separator := lipgloss.JoinHorizontal(lipgloss.Top,
		sepStyle.Render(strings.Repeat("─", wID)),
		sepStyle.Render(strings.Repeat("─", wTarget)),
		sepStyle.Render(strings.Repeat("─", wAccount)),
		sepStyle.Render(strings.Repeat("─", wRequester)),
		sepStyle.Render(strings.Repeat("─", wExpires)),
	)
	fmt.Printf("  %s\n", separator)

	for _, item := range items {
		tStyle := targetStyle
		target := item.Target
		if item.Kind == "role" {
			tStyle = tStyle.Foreground(roleColor)
			target = "role:" + target
		}
		row := lipgloss.JoinHorizontal(lipgloss.Top,
			idStyle.Render(item.ID),
			tStyle.Render(truncate(target, wTarget)),
			accountStyle.Render(truncate(item.Account, wAccount)),
			reqStyle.Render(truncate(item.Requester, wRequester)),
			expiresStyle.Render(expiresIn(item.Deadline, now)),
		)
		fmt.Printf("  %s\n", row)
		if item.Reason != "" {
			fmt.Printf("  %s\n", dimStyle.Render(strings.Repeat(" ", wID+1)+"reason: "+item.Reason))
		}
	}

	fmt.Println()
}

func expiresIn(deadline, now time.Time) string {
	if deadline.IsZero() {
		return "-"
	}
	left := deadline.Sub(now)
	if left <= 0 {
		return "due"
	}
	if left < time.Minute {
		return "<1m"
	}
	return left.Round(time.Minute).String()
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return string(r[:max])
	}
	return string(r[:max-1]) + "…"
}
