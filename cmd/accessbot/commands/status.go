package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lendkey/accessbot/internal/metrics"
	"github.com/spf13/cobra"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#8E4EC6")).
			Padding(0, 1).
			MarginBottom(1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8E4EC6")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(22)

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#2E8B57"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#D2691E"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show accessbot configuration and runtime status",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println(titleStyle.Render("accessbot Status"))

	section("Config")
	row("Path:", configPath())
	if _, err := os.Stat(configPath()); err == nil {
		row("Status:", okStyle.Render("OK"))
	} else {
		row("Status:", warnStyle.Render("not found (run 'accessbot init')"))
	}

	b := cfg.Bot
	section("Approvals")
	row("Admins:", listOrNone(b.Admins))
	adminsChannel := dimStyle.Render("none (admins are prompted by direct message)")
	if b.AdminsChannel != "" {
		adminsChannel = "#" + b.AdminsChannel
		if b.AdminsChannelElevate {
			adminsChannel += " (members are admins)"
		}
	}
	row("Admins channel:", adminsChannel)
	row("Grant timeout:", b.GrantTimeoutDuration().String())
	row("Required flags:", listOrNone(b.RequiredFlags))
	row("Fuzzy matching:", onOff(b.EnableResourcesFuzzyMatching))

	section("Auto-approve")
	row("All resources:", onOff(b.AutoApproveAll))
	row("Resource tag:", valueOrNone(b.AutoApproveTag))
	row("All roles:", onOff(b.AutoApproveRoleAll))
	row("Role tag:", valueOrNone(b.AutoApproveRoleTag))
	limit := dimStyle.Render("unlimited")
	if b.MaxAutoApproveUses > 0 {
		limit = fmt.Sprintf("%d per %s", b.MaxAutoApproveUses, b.AutoApproveWindow())
	}
	row("Limit:", limit)

	section("Channels")
	for _, state := range channelStates(cfg) {
		line := dimStyle.Render("disabled")
		if state.Enabled {
			if state.Ready {
				line = okStyle.Render("enabled (ready)")
			} else {
				line = warnStyle.Render("enabled (" + state.Reason + ")")
			}
		}
		row(titleCase(state.Name)+":", line)
	}

	section("Directory")
	row("Accounts:", fmt.Sprintf("%d", len(cfg.Directory.Accounts)))
	row("Resources:", fmt.Sprintf("%d", len(cfg.Directory.Resources)))
	row("Roles:", fmt.Sprintf("%d", len(cfg.Directory.Roles)))

	section("Persistence")
	row("Backend:", cfg.Persistence.Backend)
	switch cfg.Persistence.Backend {
	case "redis":
		row("Key:", cfg.Persistence.Redis.Key)
	case "file":
		row("Dir:", cfg.Persistence.Dir)
	}

	section("Gateway")
	if cfg.Gateway.Enabled {
		row("Address:", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port))
		if cfg.Gateway.Token != "" {
			row("Auth:", "token configured")
		} else {
			row("Auth:", warnStyle.Render("no token (open)"))
		}
	} else {
		row("Status:", dimStyle.Render("disabled"))
	}

	section("Runtime Metrics")
	snap, err := metrics.ReadRuntimeSnapshot(cfg.Persistence.Dir)
	switch {
	case err != nil:
		row("Status:", warnStyle.Render("unavailable: "+err.Error()))
	case !snap.HasData():
		row("Status:", dimStyle.Render("no runtime data yet"))
	default:
		r := snap.Requests
		row("Updated:", snap.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		row("Requests:", fmt.Sprintf("%d submitted, %d auto-approved, %d pending", r.Submitted, r.AutoApproved, r.Pending))
		row("Outcomes:", fmt.Sprintf("%d granted, %d denied, %d expired", r.Granted, r.Denied, r.Expired))
		row("Approval ratio:", fmt.Sprintf("%.1f%%", r.ApprovalRatio()*100))
		row("Grant failures:", fmt.Sprintf("%d", r.GrantFailures))
		c := snap.Channel
		row("Messages:", fmt.Sprintf("%d received, %d sent (%.1f%% failed)", c.Received, c.SendAttempts, c.FailureRatio()*100))
		row("Consecutive errors:", fmt.Sprintf("%d", snap.ConsecutiveErrors))
	}

	fmt.Println()
	return nil
}

func section(name string) {
	fmt.Printf("\n%s\n", sectionStyle.Render(name))
}

func row(label, value string) {
	fmt.Printf("  %s %s\n", labelStyle.Render(label), value)
}

func listOrNone(values []string) string {
	if len(values) == 0 {
		return dimStyle.Render("none")
	}
	return strings.Join(values, ", ")
}

func valueOrNone(v string) string {
	if strings.TrimSpace(v) == "" {
		return dimStyle.Render("none")
	}
	return v
}

func onOff(v bool) string {
	if v {
		return okStyle.Render("on")
	}
	return dimStyle.Render("off")
}
