package accessbot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendkey/accessbot/internal/admission"
	"github.com/lendkey/accessbot/internal/approval"
	"github.com/lendkey/accessbot/internal/audit"
	"github.com/lendkey/accessbot/internal/config"
	"github.com/lendkey/accessbot/internal/directory"
	"github.com/lendkey/accessbot/internal/grant"
	"github.com/lendkey/accessbot/internal/metrics"
	"github.com/lendkey/accessbot/internal/state"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type admins []string

func (a admins) IsAdmin(_ context.Context, identity string) bool {
	for _, admin := range a {
		if strings.EqualFold(admin, identity) {
			return true
		}
	}
	return false
}

type notices struct {
	mu    sync.Mutex
	kinds []approval.NotifyKind
}

func (n *notices) NotifyOriginator(_ context.Context, _ grant.Origin, kind approval.NotifyKind, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
}

func (n *notices) count(kind approval.NotifyKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, k := range n.kinds {
		if k == kind {
			c++
		}
	}
	return c
}

type harness struct {
	engine  *Engine
	clock   *clock
	dir     *directory.Static
	notices *notices
	metrics *metrics.Metrics
	baseDir string
}

func newHarness(t *testing.T, bot config.BotConfig) harness {
	t.Helper()
	if bot.GrantTimeout == 0 {
		bot.GrantTimeout = 60
	}
	baseDir := t.TempDir()
	c := &clock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	dir := directory.NewStatic(config.DirectoryConfig{
		Accounts:  []config.AccountConfig{{ID: "a-1", Email: "alice@example.com"}},
		Resources: []config.ResourceConfig{{ID: "rs-1", Name: "prod-db"}},
		Roles:     []config.RoleConfig{{ID: "r-1", Name: "ops"}},
	})
	n := &notices{}
	m := metrics.New(prometheus.NewRegistry(), "")

	engine := New(Options{
		Bot:       bot,
		Sweeper:   config.SweeperConfig{StaleInterval: 5, CounterInterval: 60},
		Directory: dir,
		Admins:    admins{"bob"},
		Notifier:  n,
		Persister: state.NewManager(baseDir),
		Metrics:   m,
		Audit:     audit.NewWriter(baseDir),
		Now:       c.Now,
	})
	return harness{engine: engine, clock: c, dir: dir, notices: n, metrics: m, baseDir: baseDir}
}

func request(target string) admission.Submission {
	return admission.Submission{
		Identity:        "alice@example.com",
		RequesterID:     "U1",
		RequesterHandle: "@alice",
		Target:          target,
		Origin:          grant.Origin{Channel: "slack", ChatID: "D1", SenderID: "U1"},
	}
}

func TestEngine_ApproveLowercaseID(t *testing.T) {
	h := newHarness(t, config.BotConfig{})
	ctx := context.Background()

	res, err := h.engine.SubmitResourceRequest(ctx, request("prod-db"))
	require.NoError(t, err)
	require.False(t, res.AutoApproved)
	assert.Equal(t, 1, h.engine.CountPending())

	out, err := h.engine.Approve(ctx, "bob", strings.ToLower(res.Request.ID))
	require.NoError(t, err)
	assert.Equal(t, approval.DecisionGranted, out.Decision)
	assert.Zero(t, h.engine.CountPending())
	assert.Len(t, h.dir.Grants(), 1)

	_, err = h.engine.Approve(ctx, "bob", res.Request.ID)
	assert.ErrorIs(t, err, approval.ErrRequestNotFound)

	snap := h.metrics.Snapshot()
	assert.EqualValues(t, 1, snap.Requests.Submitted)
	assert.EqualValues(t, 1, snap.Requests.Granted)
	assert.EqualValues(t, 0, snap.Requests.Pending)
}

func TestEngine_ExpiresAfterGrantTimeout(t *testing.T) {
	h := newHarness(t, config.BotConfig{GrantTimeout: 60})
	ctx := context.Background()

	res, err := h.engine.SubmitResourceRequest(ctx, request("prod-db"))
	require.NoError(t, err)

	h.clock.Advance(30 * time.Minute)
	require.NoError(t, h.engine.SweepOnce(ctx))
	assert.Equal(t, 1, h.engine.CountPending())

	h.clock.Advance(35 * time.Minute)
	require.NoError(t, h.engine.SweepOnce(ctx))
	require.NoError(t, h.engine.SweepOnce(ctx))
	assert.Zero(t, h.engine.CountPending())
	assert.Equal(t, 1, h.notices.count(approval.NotifyExpired))

	_, err = h.engine.Deny(ctx, "bob", res.Request.ID, "")
	assert.ErrorIs(t, err, approval.ErrRequestNotFound)
}

func TestEngine_AutoApproveLimit(t *testing.T) {
	h := newHarness(t, config.BotConfig{AutoApproveAll: true, MaxAutoApproveUses: 2, MaxAutoApproveInterval: 60})
	ctx := context.Background()

	var auto int
	for i := 0; i < 3; i++ {
		res, err := h.engine.SubmitResourceRequest(ctx, request("prod-db"))
		require.NoError(t, err)
		if res.AutoApproved {
			auto++
		}
	}
	assert.Equal(t, 2, auto)
	assert.Equal(t, 1, h.engine.CountPending())
	assert.Equal(t, 3, h.engine.AutoApproveUses("U1"))

	h.clock.Advance(time.Hour)
	require.NoError(t, h.engine.SweepOnce(ctx))
	assert.Zero(t, h.engine.AutoApproveUses("U1"))

	res, err := h.engine.SubmitResourceRequest(ctx, request("prod-db"))
	require.NoError(t, err)
	assert.True(t, res.AutoApproved)
}

func TestEngine_ConcurrentApproveDeny(t *testing.T) {
	h := newHarness(t, config.BotConfig{})
	ctx := context.Background()

	res, err := h.engine.SubmitResourceRequest(ctx, request("prod-db"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := h.engine.Approve(ctx, "bob", res.Request.ID)
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := h.engine.Deny(ctx, "bob", res.Request.ID, "no")
		errs <- err
	}()
	wg.Wait()
	close(errs)

	var ok, notFound int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, approval.ErrRequestNotFound):
			notFound++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, notFound)
}

func TestEngine_NonAdminCannotApprove(t *testing.T) {
	h := newHarness(t, config.BotConfig{})
	ctx := context.Background()

	res, err := h.engine.SubmitRoleRequest(ctx, request("ops"))
	require.NoError(t, err)

	_, err = h.engine.Approve(ctx, "alice", res.Request.ID)
	assert.ErrorIs(t, err, approval.ErrNotAuthorized)
	require.Len(t, h.engine.ListPending(), 1)
	assert.Equal(t, grant.KindRole, h.engine.ListPending()[0].Kind)
}

func TestEngine_StartStopPersistsCounters(t *testing.T) {
	h := newHarness(t, config.BotConfig{AutoApproveAll: true, MaxAutoApproveUses: 5})
	ctx := context.Background()

	require.NoError(t, h.engine.Start(ctx))
	_, err := h.engine.SubmitResourceRequest(ctx, request("prod-db"))
	require.NoError(t, err)
	require.NoError(t, h.engine.Stop(ctx))

	saved, err := state.NewManager(h.baseDir).LoadCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Uses["u1"])

	restarted := New(Options{
		Bot:       config.BotConfig{GrantTimeout: 60, AutoApproveAll: true, MaxAutoApproveUses: 5},
		Directory: h.dir,
		Admins:    admins{"bob"},
		Persister: state.NewManager(h.baseDir),
		Now:       h.clock.Now,
	})
	require.NoError(t, restarted.Start(ctx))
	defer restarted.Stop(ctx)
	assert.Equal(t, 1, restarted.AutoApproveUses("U1"))
}

func TestEngine_AdmissionFailuresAreNotStored(t *testing.T) {
	h := newHarness(t, config.BotConfig{})
	ctx := context.Background()

	sub := request("prod-db")
	sub.Identity = "nobody@example.com"
	_, err := h.engine.SubmitResourceRequest(ctx, sub)
	assert.ErrorIs(t, err, directory.ErrAccountNotFound)

	_, err = h.engine.SubmitResourceRequest(ctx, request("nope"))
	assert.ErrorIs(t, err, directory.ErrResourceNotFound)
	assert.Zero(t, h.engine.CountPending())
	assert.Equal(t, "account_not_found", admissionFailureReason(directory.ErrAccountNotFound))
}
