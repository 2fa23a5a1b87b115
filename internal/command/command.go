// Package command parses chat messages into access-bot commands and runs
// them against the engine.
package command

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/lendkey/accessbot/internal/admission"
	"github.com/lendkey/accessbot/internal/approval"
	"github.com/lendkey/accessbot/internal/config"
	"github.com/lendkey/accessbot/internal/directory"
)

// Access is the part of the engine commands drive.
type Access interface {
	SubmitResourceRequest(ctx context.Context, sub admission.Submission) (admission.Result, error)
	SubmitRoleRequest(ctx context.Context, sub admission.Submission) (admission.Result, error)
	Approve(ctx context.Context, approver, id string) (approval.Outcome, error)
	Deny(ctx context.Context, approver, id, reason string) (approval.Outcome, error)
	VisibleResources(ctx context.Context, filter string) ([]directory.Resource, error)
	VisibleRoles(ctx context.Context) ([]directory.Role, error)
	ResourceAutoApproved(res directory.Resource) bool
	RoleAutoApproved(role directory.Role) bool
}

// Sender is the resolved author of a message, after overrides.
type Sender struct {
	ID      string
	Nick    string
	Email   string
	Mention string
}

// Handle is the identity admins are matched against.
func (s Sender) Handle() string {
	if s.Nick != "" {
		return s.Nick
	}
	return s.ID
}

// Env carries per-invocation context for a command.
type Env struct {
	Channel      string
	ChatID       string
	MessageID    string
	RequestID    string
	Direct       bool
	Sender       Sender
	Bot          config.BotConfig
	Access       Access
	ListCommands func() []Command // for help
}

// Result is the output of a command execution. Replies are sent in order.
// Err is set when the command failed, for metrics.
type Result struct {
	Replies []string
	Err     error
}

func reply(lines ...string) Result {
	return Result{Replies: lines}
}

func failure(err error, lines ...string) Result {
	return Result{Replies: lines, Err: err}
}

// Command is the interface every chat command must implement.
type Command interface {
	// Name returns the command phrase, e.g. "access to role".
	Name() string
	// Usage returns the help line shown by "help".
	Usage() string
	// Execute runs the command. args is the trimmed text after the phrase.
	Execute(ctx context.Context, args string, env Env) Result
}

// ArgMatcher is implemented by commands whose phrase alone is too
// generic, so that "no thanks" is not taken as a denial.
type ArgMatcher interface {
	Accepts(args string) bool
}

// Hidden commands are left out of help.
type Hidden interface {
	Hidden() bool
}

// Registry holds registered commands and dispatches them.
type Registry struct {
	mu   sync.RWMutex
	cmds map[string]Command
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{cmds: make(map[string]Command)}
}

// NewDefaultRegistry registers every access-bot command.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&AccessResourceCommand{})
	r.Register(&AccessRoleCommand{})
	r.Register(&ApproveCommand{})
	r.Register(&DenyCommand{})
	r.Register(&ShowResourcesCommand{})
	r.Register(&ShowRolesCommand{})
	r.Register(&WhoamiCommand{})
	r.Register(&HelpCommand{})
	return r
}

// Register adds a command. Panics on duplicate names.
func (r *Registry) Register(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := normalizePhrase(cmd.Name())
	if _, dup := r.cmds[name]; dup {
		panic("command already registered: " + name)
	}
	r.cmds[name] = cmd
}

// Lookup matches content against the registered phrases. The longest
// phrase wins, so "access to role x" is not read as a resource request.
func (r *Registry) Lookup(content string) (Command, string, bool) {
	content = Clean(content)
	if content == "" {
		return nil, "", false
	}
	lower := strings.ToLower(content)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best     Command
		bestArgs string
		bestLen  = -1
	)
	for name, cmd := range r.cmds {
		if lower != name && !strings.HasPrefix(lower, name+" ") {
			continue
		}
		if len(name) <= bestLen {
			continue
		}
		args := strings.TrimSpace(content[len(name):])
		if m, ok := cmd.(ArgMatcher); ok && !m.Accepts(args) {
			continue
		}
		best, bestArgs, bestLen = cmd, args, len(name)
	}
	if best == nil {
		return nil, "", false
	}
	return best, bestArgs, true
}

// List returns all registered commands sorted by name.
func (r *Registry) List() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.cmds))
	for _, cmd := range r.cmds {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Clean strips chat formatting noise such as markdown bold markers, a
// leading slash and repeated whitespace.
func Clean(content string) string {
	content = strings.ReplaceAll(content, "*", "")
	// chat clients turn "--" into an em dash
	content = strings.ReplaceAll(content, "\u2014", "--")
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "/")
	return strings.Join(strings.Fields(content), " ")
}

func normalizePhrase(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
