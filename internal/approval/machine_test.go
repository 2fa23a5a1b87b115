package approval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/lendkey/accessbot/internal/grant"
)

type adminSet map[string]bool

func (a adminSet) IsAdmin(_ context.Context, identity string) bool {
	return a[strings.ToLower(identity)]
}

type recordingGranter struct {
	mu      sync.Mutex
	granted []string
	err     error
}

func (g *recordingGranter) Grant(_ context.Context, req grant.Request) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.granted = append(g.granted, req.ID)
	return nil
}

type notice struct {
	origin grant.Origin
	kind   NotifyKind
	detail string
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (n *recordingNotifier) NotifyOriginator(_ context.Context, origin grant.Origin, kind NotifyKind, detail string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{origin: origin, kind: kind, detail: detail})
}

func (n *recordingNotifier) all() []notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notice(nil), n.notices...)
}

func newFixture(t *testing.T, ids ...string) (*Machine, *grant.Store, *recordingGranter, *recordingNotifier) {
	t.Helper()
	store := grant.NewStore()
	for _, id := range ids {
		err := store.Add(grant.Request{
			ID:      id,
			Kind:    grant.KindResource,
			Target:  grant.Target{ID: "rs-1", Name: "prod-db"},
			Account: grant.Account{ID: "a-1", Email: "alice@example.com"},
			Origin:  grant.Origin{Channel: "slack", ChatID: "D1", SenderID: "U1"},
		})
		if err != nil {
			t.Fatalf("Add(%s) error: %v", id, err)
		}
	}
	granter := &recordingGranter{}
	notifier := &recordingNotifier{}
	m := NewMachine(store, adminSet{"admin": true}, granter, notifier, nil)
	return m, store, granter, notifier
}

func TestMachine_ApproveCaseInsensitive(t *testing.T) {
	m, store, granter, notifier := newFixture(t, "ABCD")

	out, err := m.Approve(context.Background(), "admin", "abcd")
	if err != nil {
		t.Fatalf("Approve error: %v", err)
	}
	if out.Decision != DecisionGranted || out.GrantErr != nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if store.Exists("ABCD") {
		t.Fatal("expected request to be removed")
	}
	if len(granter.granted) != 1 || granter.granted[0] != "ABCD" {
		t.Fatalf("unexpected grants: %v", granter.granted)
	}
	notices := notifier.all()
	if len(notices) != 1 || notices[0].kind != NotifyGranted || notices[0].origin.ChatID != "D1" {
		t.Fatalf("unexpected notices: %+v", notices)
	}

	_, err = m.Approve(context.Background(), "admin", "ABCD")
	if !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound on second approve, got %v", err)
	}
	if !errors.Is(err, grant.ErrNotFound) {
		t.Fatalf("expected grant.ErrNotFound compatibility, got %v", err)
	}
}

func TestMachine_NotAuthorizedLeavesRequest(t *testing.T) {
	m, store, granter, notifier := newFixture(t, "WXYZ")

	_, err := m.Approve(context.Background(), "mallory", "WXYZ")
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	_, err = m.Deny(context.Background(), "mallory", "WXYZ", "")
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if !store.Exists("WXYZ") {
		t.Fatal("request must stay pending after unauthorized attempts")
	}
	if len(granter.granted) != 0 || len(notifier.all()) != 0 {
		t.Fatal("no side effects expected")
	}
}

func TestMachine_NotFoundBeforeAuthorization(t *testing.T) {
	m, _, _, _ := newFixture(t)

	_, err := m.Approve(context.Background(), "mallory", "NOPE")
	if !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestMachine_DenyPassesReason(t *testing.T) {
	m, store, granter, notifier := newFixture(t, "DENY")

	out, err := m.Deny(context.Background(), "admin", "deny", "not today")
	if err != nil {
		t.Fatalf("Deny error: %v", err)
	}
	if out.Decision != DecisionDenied || out.Reason != "not today" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if store.Exists("DENY") || len(granter.granted) != 0 {
		t.Fatal("deny must remove without granting")
	}
	notices := notifier.all()
	if len(notices) != 1 || notices[0].kind != NotifyDenied || !strings.Contains(notices[0].detail, "not today") {
		t.Fatalf("unexpected notices: %+v", notices)
	}
}

func TestMachine_GrantFailureStillResolves(t *testing.T) {
	m, store, granter, notifier := newFixture(t, "FAIL")
	granter.err = errors.New("directory unavailable")

	out, err := m.Approve(context.Background(), "admin", "FAIL")
	if err != nil {
		t.Fatalf("Approve error: %v", err)
	}
	if out.GrantErr == nil {
		t.Fatal("expected grant error on outcome")
	}
	if store.Exists("FAIL") {
		t.Fatal("failed grant must still remove the request")
	}
	notices := notifier.all()
	if len(notices) != 1 || notices[0].kind != NotifyGrantFailed {
		t.Fatalf("unexpected notices: %+v", notices)
	}
}

func TestMachine_ConcurrentApproveDenyOneWinner(t *testing.T) {
	for round := 0; round < 50; round++ {
		m, _, _, notifier := newFixture(t, "RACE")

		var wg sync.WaitGroup
		errs := make([]error, 3)
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, errs[0] = m.Approve(context.Background(), "admin", "RACE")
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = m.Deny(context.Background(), "admin", "race", "")
		}()
		go func() {
			defer wg.Done()
			_, errs[2] = m.Expire(context.Background(), "RACE")
		}()
		wg.Wait()

		winners := 0
		for _, err := range errs {
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrRequestNotFound):
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if winners != 1 {
			t.Fatalf("round %d: expected exactly one winner, got %d (%v)", round, winners, errs)
		}
		if got := len(notifier.all()); got != 1 {
			t.Fatalf("round %d: expected one notification, got %d", round, got)
		}
	}
}

func TestMachine_ObserversSeeOutcomes(t *testing.T) {
	m, _, _, _ := newFixture(t, "AAAA", "BBBB")

	var got []Decision
	m.Observe(func(_ context.Context, out Outcome) {
		got = append(got, out.Decision)
	})

	if _, err := m.Approve(context.Background(), "admin", "AAAA"); err != nil {
		t.Fatalf("Approve error: %v", err)
	}
	if _, err := m.Expire(context.Background(), "BBBB"); err != nil {
		t.Fatalf("Expire error: %v", err)
	}
	if len(got) != 2 || got[0] != DecisionGranted || got[1] != DecisionExpired {
		t.Fatalf("unexpected observed decisions: %v", got)
	}
}
