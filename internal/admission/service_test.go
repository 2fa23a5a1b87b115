package admission

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendkey/accessbot/internal/autoapprove"
	"github.com/lendkey/accessbot/internal/config"
	"github.com/lendkey/accessbot/internal/directory"
	"github.com/lendkey/accessbot/internal/grant"
)

var fixedNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type recordingPrompter struct {
	mu       sync.Mutex
	prompted []grant.Request
}

func (p *recordingPrompter) PromptAdmins(_ context.Context, req grant.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompted = append(p.prompted, req)
}

type failingGranter struct{}

func (failingGranter) Grant(context.Context, grant.Request) error {
	return directory.ErrExternalService
}

type fixture struct {
	svc      *Service
	store    *grant.Store
	dir      *directory.Static
	counters *autoapprove.Store
	prompter *recordingPrompter
}

func newFixture(t *testing.T, cfg config.BotConfig) fixture {
	t.Helper()
	if cfg.GrantTimeout == 0 {
		cfg.GrantTimeout = 60
	}
	dir := directory.NewStatic(config.DirectoryConfig{
		Accounts: []config.AccountConfig{{ID: "a-1", Email: "alice@example.com"}},
		Resources: []config.ResourceConfig{
			{ID: "rs-1", Name: "prod-db", Tags: map[string]string{"auto": ""}},
			{ID: "rs-2", Name: "staging-db", Tags: map[string]string{"timeout": "15"}},
			{ID: "rs-3", Name: "secret-db", Tags: map[string]string{"hidden": ""}},
			{ID: "rs-4", Name: "warehouse-db", Tags: map[string]string{"timeout": "120"}},
		},
		Roles: []config.RoleConfig{
			{ID: "r-1", Name: "ops", Tags: map[string]string{"auto": ""}},
			{ID: "r-2", Name: "root", Tags: map[string]string{"hidden": ""}},
		},
	})
	store := grant.NewStore()
	counters := autoapprove.NewStore(time.Hour, func() time.Time { return fixedNow })
	prompter := &recordingPrompter{}
	svc := NewService(cfg, dir, store, counters, directory.NewGranter(dir), prompter, nil)
	svc.now = func() time.Time { return fixedNow }
	return fixture{svc: svc, store: store, dir: dir, counters: counters, prompter: prompter}
}

func submission(target string) Submission {
	return Submission{
		Identity:        "alice@example.com",
		RequesterID:     "U1",
		RequesterHandle: "@alice",
		Target:          target,
		Origin:          grant.Origin{Channel: "slack", ChatID: "D1", SenderID: "U1"},
	}
}

func TestSubmitResource_ManualApprovalPath(t *testing.T) {
	f := newFixture(t, config.BotConfig{})

	res, err := f.svc.SubmitResourceRequest(context.Background(), submission("prod-db"))
	require.NoError(t, err)

	assert.False(t, res.AutoApproved)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{4}$`), res.Request.ID)
	assert.Equal(t, fixedNow.Add(time.Hour), res.Request.Deadline)
	assert.Equal(t, time.Hour, res.Request.GrantDuration)
	assert.True(t, f.store.Exists(res.Request.ID))
	require.Len(t, f.prompter.prompted, 1)
	assert.Equal(t, res.Request.ID, f.prompter.prompted[0].ID)
	assert.Empty(t, f.dir.Grants())
}

func TestSubmitResource_AccountNotFound(t *testing.T) {
	f := newFixture(t, config.BotConfig{})
	sub := submission("prod-db")
	sub.Identity = "mallory@example.com"

	_, err := f.svc.SubmitResourceRequest(context.Background(), sub)
	assert.ErrorIs(t, err, directory.ErrAccountNotFound)
	assert.Zero(t, f.store.Count())
	assert.Empty(t, f.prompter.prompted)
}

func TestSubmitResource_HiddenAndAllowTags(t *testing.T) {
	f := newFixture(t, config.BotConfig{HideResourceTag: "hidden"})
	_, err := f.svc.SubmitResourceRequest(context.Background(), submission("secret-db"))
	assert.ErrorIs(t, err, directory.ErrResourceNotFound)

	f = newFixture(t, config.BotConfig{AllowResourceTag: "auto"})
	_, err = f.svc.SubmitResourceRequest(context.Background(), submission("staging-db"))
	assert.ErrorIs(t, err, directory.ErrResourceNotFound)
	_, err = f.svc.SubmitResourceRequest(context.Background(), submission("prod-db"))
	assert.NoError(t, err)

	visible, err := f.svc.VisibleResources(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "prod-db", visible[0].Name)
}

func TestSubmitResource_FuzzySuggestion(t *testing.T) {
	f := newFixture(t, config.BotConfig{EnableResourcesFuzzyMatching: true, HideResourceTag: "hidden"})

	_, err := f.svc.SubmitResourceRequest(context.Background(), submission("prod-bd"))
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "prod-db", nf.Suggestion)

	_, err = f.svc.SubmitResourceRequest(context.Background(), submission("secret-db"))
	require.ErrorAs(t, err, &nf)
	assert.NotEqual(t, "secret-db", nf.Suggestion, "hidden resources are never suggested")
}

func TestSubmitResource_TimeoutTagOverride(t *testing.T) {
	f := newFixture(t, config.BotConfig{ResourceGrantTimeoutTag: "timeout"})

	res, err := f.svc.SubmitResourceRequest(context.Background(), submission("staging-db"))
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(15*time.Minute), res.Request.Deadline)
}

func TestSubmitResource_DurationFlag(t *testing.T) {
	f := newFixture(t, config.BotConfig{})
	sub := submission("prod-db")
	sub.Flags = grant.Flags{grant.FlagDuration: "30m", grant.FlagReason: "incident"}

	res, err := f.svc.SubmitResourceRequest(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, res.Request.GrantDuration)
	assert.Equal(t, "incident", res.Request.Reason())

	sub.Flags = grant.Flags{grant.FlagDuration: "soon"}
	_, err = f.svc.SubmitResourceRequest(context.Background(), sub)
	assert.ErrorIs(t, err, ErrInvalidDuration)

	pending := f.store.Count()
	sub.Flags = grant.Flags{grant.FlagDuration: "90m"}
	_, err = f.svc.SubmitResourceRequest(context.Background(), sub)
	assert.ErrorIs(t, err, ErrInvalidDuration, "longer than the global grant timeout")
	assert.Equal(t, pending, f.store.Count())
}

func TestSubmitResource_DurationBoundByResourceTimeout(t *testing.T) {
	f := newFixture(t, config.BotConfig{ResourceGrantTimeoutTag: "timeout"})
	sub := submission("warehouse-db")
	sub.Flags = grant.Flags{grant.FlagDuration: "90m"}

	res, err := f.svc.SubmitResourceRequest(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, res.Request.GrantDuration)
	assert.Equal(t, fixedNow.Add(120*time.Minute), res.Request.Deadline)

	sub.Flags = grant.Flags{grant.FlagDuration: "3h"}
	_, err = f.svc.SubmitResourceRequest(context.Background(), sub)
	assert.ErrorIs(t, err, ErrInvalidDuration)

	sub = submission("staging-db")
	sub.Flags = grant.Flags{grant.FlagDuration: "30m"}
	_, err = f.svc.SubmitResourceRequest(context.Background(), sub)
	assert.ErrorIs(t, err, ErrInvalidDuration, "staging-db is capped at 15 minutes")
}

func TestSubmitResource_AutoApproveThrottle(t *testing.T) {
	f := newFixture(t, config.BotConfig{AutoApproveAll: true, MaxAutoApproveUses: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := f.svc.SubmitResourceRequest(ctx, submission("prod-db"))
		require.NoError(t, err)
		assert.True(t, res.AutoApproved, "request %d should be auto-approved", i+1)
	}
	res, err := f.svc.SubmitResourceRequest(ctx, submission("prod-db"))
	require.NoError(t, err)
	assert.False(t, res.AutoApproved, "third request goes to an admin")
	assert.True(t, f.store.Exists(res.Request.ID))
	assert.Len(t, f.dir.Grants(), 2)
	assert.Equal(t, 3, f.counters.Get("U1"))

	f.counters.ClearAll()
	res, err = f.svc.SubmitResourceRequest(ctx, submission("prod-db"))
	require.NoError(t, err)
	assert.True(t, res.AutoApproved, "window reset restores auto-approval")
}

func TestSubmitResource_AutoApproveTagWithoutLimit(t *testing.T) {
	f := newFixture(t, config.BotConfig{AutoApproveTag: "auto"})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := f.svc.SubmitResourceRequest(ctx, submission("prod-db"))
		require.NoError(t, err)
		assert.True(t, res.AutoApproved)
	}
	assert.Zero(t, f.counters.Get("U1"), "no cap means no counting")

	res, err := f.svc.SubmitResourceRequest(ctx, submission("staging-db"))
	require.NoError(t, err)
	assert.False(t, res.AutoApproved)
}

func TestSubmitResource_AutoApproveFailure(t *testing.T) {
	f := newFixture(t, config.BotConfig{AutoApproveAll: true})
	f.svc.granter = failingGranter{}

	_, err := f.svc.SubmitResourceRequest(context.Background(), submission("prod-db"))
	var aae *AutoApproveError
	require.ErrorAs(t, err, &aae)
	assert.Equal(t, "prod-db", aae.Target)
	assert.ErrorIs(t, err, directory.ErrExternalService)
	assert.Zero(t, f.store.Count())
}

func TestSubmitResource_RetriesIDCollision(t *testing.T) {
	f := newFixture(t, config.BotConfig{})
	require.NoError(t, f.store.Add(grant.Request{ID: "AAAA"}))

	ids := []string{"aaaa", "AAAA", "BBBB"}
	f.svc.newID = func() (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}

	res, err := f.svc.SubmitResourceRequest(context.Background(), submission("prod-db"))
	require.NoError(t, err)
	assert.Equal(t, "BBBB", res.Request.ID)
	assert.Equal(t, 2, f.store.Count())
}

func TestSubmitResource_IDExhausted(t *testing.T) {
	f := newFixture(t, config.BotConfig{})
	require.NoError(t, f.store.Add(grant.Request{ID: "ZZZZ"}))
	f.svc.newID = func() (string, error) { return "ZZZZ", nil }

	_, err := f.svc.SubmitResourceRequest(context.Background(), submission("prod-db"))
	assert.ErrorIs(t, err, ErrIDExhausted)
}

func TestSubmitRole(t *testing.T) {
	f := newFixture(t, config.BotConfig{AutoApproveRoleTag: "auto", HideRoleTag: "hidden"})
	ctx := context.Background()

	res, err := f.svc.SubmitRoleRequest(ctx, submission("ops"))
	require.NoError(t, err)
	assert.True(t, res.AutoApproved)
	assert.Equal(t, grant.KindRole, res.Request.Kind)

	_, err = f.svc.SubmitRoleRequest(ctx, submission("root"))
	assert.ErrorIs(t, err, directory.ErrRoleNotFound)

	_, err = f.svc.SubmitRoleRequest(ctx, submission("missing"))
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, grant.KindRole, nf.Kind)

	roles, err := f.svc.VisibleRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "ops", roles[0].Name)
}

func TestRandomID(t *testing.T) {
	re := regexp.MustCompile(`^[A-Z0-9]{4}$`)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id, err := RandomID()
		require.NoError(t, err)
		require.Regexp(t, re, id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 150)
}

func TestErrorsUnwrap(t *testing.T) {
	err := &AutoApproveError{Target: "x", Err: errors.New("inner")}
	assert.Contains(t, err.Error(), "inner")
	nf := &NotFoundError{Kind: grant.KindResource, Name: "x", Suggestion: "y", Err: directory.ErrResourceNotFound}
	assert.Contains(t, nf.Error(), `did you mean "y"`)
}
