package retention

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/minno-ai/minno/internal/db"
	"github.com/minno-ai/minno/internal/models"
	"github.com/minno-ai/minno/internal/secret"
	"github.com/minno-ai/minno/internal/store"
)

// --- Mock store ---

type call struct {
	op     string
	cutoff time.Time
}

type mockStore struct {
	calls []call
	err   error
}

func (m *mockStore) ArchiveIdleSessions(_ context.Context, cutoff time.Time) (int64, error) {
	m.calls = append(m.calls, call{"archive", cutoff})
	return 3, m.err
}

func (m *mockStore) PurgeArchivedSessions(_ context.Context, cutoff time.Time) (int64, error) {
	m.calls = append(m.calls, call{"purge", cutoff})
	return 2, nil
}

func (m *mockStore) PurgeEmptySessions(_ context.Context, cutoff time.Time) (int64, error) {
	m.calls = append(m.calls, call{"empty", cutoff})
	return 1, nil
}

var now = time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)

func TestPolicy_RunOrderAndCutoffs(t *testing.T) {
	m := &mockStore{}
	p := Policy{ArchiveIdleAfter: 24 * time.Hour, PurgeArchivedAfter: 48 * time.Hour, PurgeEmptyAfter: time.Hour}
	res, err := p.Run(context.Background(), m, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res != (Result{Archived: 3, Purged: 2, Emptied: 1}) {
		t.Errorf("Result = %+v", res)
	}
	want := []call{
		{"archive", now.Add(-24 * time.Hour)},
		{"purge", now.Add(-48 * time.Hour)},
		{"empty", now.Add(-time.Hour)},
	}
	if len(m.calls) != len(want) {
		t.Fatalf("calls = %v", m.calls)
	}
	for i := range want {
		if m.calls[i].op != want[i].op || !m.calls[i].cutoff.Equal(want[i].cutoff) {
			t.Errorf("calls[%d] = %+v, want %+v", i, m.calls[i], want[i])
		}
	}
}

func TestPolicy_ZeroDisablesStep(t *testing.T) {
	m := &mockStore{}
	if _, err := (Policy{PurgeEmptyAfter: time.Hour}).Run(context.Background(), m, now); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(m.calls) != 1 || m.calls[0].op != "empty" {
		t.Errorf("calls = %v, want only empty", m.calls)
	}
}

func TestPolicy_StopsOnError(t *testing.T) {
	m := &mockStore{err: errors.New("db down")}
	p := Policy{ArchiveIdleAfter: time.Hour, PurgeArchivedAfter: time.Hour}
	if _, err := p.Run(context.Background(), m, now); err == nil {
		t.Fatal("expected error")
	}
	if len(m.calls) != 1 {
		t.Errorf("calls = %d, want 1", len(m.calls))
	}
}

func TestNewScheduler(t *testing.T) {
	s, err := NewScheduler("0 3 * * *", &Job{})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	next := s.Next(time.Date(2026, 6, 1, 2, 30, 0, 0, time.UTC))
	if !next.Equal(time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)) {
		t.Errorf("Next = %v, want 03:00", next)
	}

	if _, err := NewScheduler("not a cron expr", &Job{}); err == nil {
		t.Error("expected error for invalid expression")
	}
	if _, err := NewScheduler("0 0 3 * * *", &Job{}); err == nil {
		t.Error("expected error for 6-field expression")
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s, err := NewScheduler("* * * * *", &Job{Store: &mockStore{}})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestJob_RunOnceAgainstStore(t *testing.T) {
	ctx := context.Background()
	gdb, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "retention.db"), db.Opts{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close(gdb)
	if _, err := db.Migrate(ctx, gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	box, _ := secret.NewBox("retention-test-key")
	clock := now.Add(-100 * 24 * time.Hour)
	st, err := store.New(store.Opts{DB: gdb, Sealer: box, Now: func() time.Time { return clock }})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	ws, _ := st.UpsertWorkspace(ctx, "T1", "Acme", nil)
	talky, _ := st.UpsertSession(ctx, ws.ID, "C1", "1.000001", store.SessionFields{})
	if _, err := st.AppendMessage(ctx, talky.ID, store.MessageInput{Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := st.UpsertSession(ctx, ws.ID, "C1", "2.000001", store.SessionFields{}); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	job := &Job{
		Policy: Policy{ArchiveIdleAfter: 30 * 24 * time.Hour, PurgeEmptyAfter: 24 * time.Hour},
		Store:  st,
		Now:    func() time.Time { return now },
	}
	res, err := job.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Archived != 2 {
		t.Errorf("Archived = %d, want 2", res.Archived)
	}
	if res.Emptied != 1 {
		t.Errorf("Emptied = %d, want 1", res.Emptied)
	}
	got, err := st.GetSession(ctx, talky.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != models.SessionArchived {
		t.Errorf("Status = %q, want archived", got.Status)
	}
}
