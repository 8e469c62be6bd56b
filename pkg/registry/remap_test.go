package registry

import (
	"errors"
	"testing"

	"chatsync/pkg/models"
)

func TestRemapRekeysWhenTargetMissing(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	id := directSession(t, r, "local-abc")
	_ = r.AddMessage(id, models.Message{ID: "m1", AuthorID: "user_ana", Body: "hi", SentAt: "2026-01-02T03:04:06Z"}, false)
	if err := r.OpenSession(id); err != nil {
		t.Fatal(err)
	}

	if err := r.RemapSessionID("local-abc", "srv-1"); err != nil {
		t.Fatal(err)
	}
	snap := r.Snapshot()
	if _, ok := snap.Session("local-abc"); ok {
		t.Fatal("old id still present")
	}
	v, ok := snap.Session("srv-1")
	if !ok {
		t.Fatal("target id missing")
	}
	if len(v.Messages) != 1 || v.Messages[0].ID != "m1" {
		t.Fatalf("messages lost in rekey: %+v", v.Messages)
	}
	if snap.ActiveSessionID != "srv-1" {
		t.Fatalf("active pointer = %q", snap.ActiveSessionID)
	}
}

func TestRemapMergesIntoExistingTarget(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	src := directSession(t, r, "local-abc")
	_ = r.AddMessage(src, models.Message{ID: "m1", AuthorID: "user_self", Body: "first", SentAt: "2026-01-02T03:04:01Z", Status: models.StatusPending}, true)
	_ = r.AddMessage(src, models.Message{ID: "m2", AuthorID: "user_ana", Body: "second", SentAt: "2026-01-02T03:04:02Z"}, false)

	dst := r.EnsureSession(Descriptor{
		ID:           "srv-1",
		Type:         string(models.TypeDirect),
		Title:        "Kept",
		Participants: []map[string]any{part("user_ana", "Ana")},
	})
	_ = r.AddMessage(dst, models.Message{ID: "m1", AuthorID: "user_self", Body: "first", SentAt: "2026-01-02T03:04:01Z", Status: models.StatusSent}, true)
	_ = r.AddMessage(dst, models.Message{ID: "m3", AuthorID: "user_ana", Body: "third", SentAt: "2026-01-02T03:04:03Z"}, false)

	if err := r.RemapSessionID("local-abc", "srv-1"); err != nil {
		t.Fatal(err)
	}
	snap := r.Snapshot()
	if _, ok := snap.Session("local-abc"); ok {
		t.Fatal("source survived the merge")
	}
	v, _ := snap.Session("srv-1")

	// union by id, ordered by sentAt
	if len(v.Messages) != 3 {
		t.Fatalf("expected union of 3, got %d: %+v", len(v.Messages), v.Messages)
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if v.Messages[i].ID != want {
			t.Fatalf("order[%d] = %s, want %s", i, v.Messages[i].ID, want)
		}
	}
	// the sent copy of m1 wins over the pending one
	if v.Messages[0].Status != models.StatusSent {
		t.Fatalf("m1 status = %s", v.Messages[0].Status)
	}
	// unread is the maximum of both sides (src had 1, dst had 1)
	if v.UnreadCount != 1 {
		t.Fatalf("unread = %d", v.UnreadCount)
	}
	if v.Title != "Kept" {
		t.Fatalf("target metadata lost: %q", v.Title)
	}
}

func TestRemapUnreadTakesMaximum(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	src := directSession(t, r, "local-abc")
	for _, m := range []string{"a1", "a2", "a3"} {
		_ = r.AddMessage(src, models.Message{ID: m, AuthorID: "user_ana", Body: "x " + m, SentAt: "2026-01-02T03:04:01Z"}, false)
	}
	dst := directSession(t, r, "srv-1")
	_ = r.AddMessage(dst, models.Message{ID: "b1", AuthorID: "user_ana", Body: "y", SentAt: "2026-01-02T03:04:02Z"}, false)

	if err := r.RemapSessionID("local-abc", "srv-1"); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Snapshot().Session("srv-1"); v.UnreadCount != 3 {
		t.Fatalf("unread = %d, want max(3,1)", v.UnreadCount)
	}
}

func TestRemapNoops(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	directSession(t, r, "dm-1")

	if err := r.RemapSessionID("dm-1", "dm-1"); err != nil {
		t.Fatalf("same-id remap errored: %v", err)
	}
	if err := r.RemapSessionID("", "dm-2"); err != nil {
		t.Fatalf("empty old id errored: %v", err)
	}
	if err := r.RemapSessionID("ghost", "dm-2"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if _, ok := r.Snapshot().Session("dm-1"); !ok {
		t.Fatal("dm-1 disappeared")
	}
}
