package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"chatsync/pkg/models"
	"chatsync/pkg/storage"
)

func directSession(t *testing.T, r *Registry, id string) string {
	t.Helper()
	got := r.EnsureSession(Descriptor{
		ID:           id,
		Type:         string(models.TypeDirect),
		Participants: []map[string]any{part("user_ana", "Ana")},
	})
	if got != id {
		t.Fatalf("EnsureSession returned %q, want %q", got, id)
	}
	return got
}

func TestAddMessageDedup(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	id := directSession(t, r, "dm-1")

	msg := models.Message{ID: "m1", AuthorID: "user_ana", Body: "hello", SentAt: "2026-01-02T03:04:06Z", Status: models.StatusSent}
	if err := r.AddMessage(id, msg, false); err != nil {
		t.Fatal(err)
	}

	notified := 0
	defer r.Subscribe(func(Snapshot) { notified++ })()

	// identical re-delivery: no growth, no notification
	if err := r.AddMessage(id, msg, false); err != nil {
		t.Fatal(err)
	}
	v, _ := r.Snapshot().Session(id)
	if len(v.Messages) != 1 {
		t.Fatalf("duplicate grew the ledger: %d", len(v.Messages))
	}
	if notified != 0 {
		t.Fatalf("no-op delivery notified %d times", notified)
	}

	// same id, new body: merged in place
	msg.Body = "hello again"
	if err := r.AddMessage(id, msg, false); err != nil {
		t.Fatal(err)
	}
	v, _ = r.Snapshot().Session(id)
	if len(v.Messages) != 1 || v.Messages[0].Body != "hello again" {
		t.Fatalf("merge in place failed: %+v", v.Messages)
	}
	if notified != 1 {
		t.Fatalf("expected exactly one notification, got %d", notified)
	}
}

func TestAddMessageBlankBodyDropped(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	id := directSession(t, r, "dm-1")
	if err := r.AddMessage(id, models.Message{ID: "m1", Body: "  \n\t "}, false); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Snapshot().Session(id); len(v.Messages) != 0 {
		t.Fatalf("blank message was stored: %+v", v.Messages)
	}
}

func TestUnreadCounting(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	id := directSession(t, r, "dm-1")

	inbound := func(n int) models.Message {
		return models.Message{ID: fmt.Sprintf("m%d", n), AuthorID: "user_ana", Body: "hi", SentAt: fmt.Sprintf("2026-01-02T03:04:%02dZ", n)}
	}
	_ = r.AddMessage(id, inbound(10), false)
	_ = r.AddMessage(id, inbound(11), false)
	if v, _ := r.Snapshot().Session(id); v.UnreadCount != 2 {
		t.Fatalf("unread = %d, want 2", v.UnreadCount)
	}
	if r.Snapshot().TotalUnread != 2 {
		t.Fatalf("total unread = %d", r.Snapshot().TotalUnread)
	}

	if err := r.OpenSession(id); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Snapshot().Session(id); v.UnreadCount != 0 {
		t.Fatalf("open did not clear unread: %d", v.UnreadCount)
	}

	// inbound while active stays read
	_ = r.AddMessage(id, inbound(12), false)
	if v, _ := r.Snapshot().Session(id); v.UnreadCount != 0 {
		t.Fatalf("active session accumulated unread: %d", v.UnreadCount)
	}
}

func TestTrimOldestAndReindex(t *testing.T) {
	r, _ := newTestRegistry(t, func(o *Options) { o.MaxMessages = 3 })
	id := directSession(t, r, "dm-1")

	for i := 1; i <= 5; i++ {
		_ = r.AddMessage(id, models.Message{
			ID:     fmt.Sprintf("m%d", i),
			Body:   fmt.Sprintf("msg %d", i),
			SentAt: fmt.Sprintf("2026-01-02T03:04:%02dZ", i),
		}, false)
	}
	v, _ := r.Snapshot().Session(id)
	if len(v.Messages) != 3 {
		t.Fatalf("trim kept %d messages", len(v.Messages))
	}
	if v.Messages[0].ID != "m3" || v.Messages[2].ID != "m5" {
		t.Fatalf("wrong survivors: %+v", v.Messages)
	}

	// the rebuilt index must still address survivors in place
	_ = r.AddMessage(id, models.Message{ID: "m4", Body: "edited", SentAt: "2026-01-02T03:04:04Z"}, false)
	v, _ = r.Snapshot().Session(id)
	if len(v.Messages) != 3 || v.Messages[1].Body != "edited" {
		t.Fatalf("reindexed merge failed: %+v", v.Messages)
	}
}

func TestAcknowledgeRekeysInPlace(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	id := directSession(t, r, "dm-1")

	_ = r.AddMessage(id, models.Message{ID: "local-1", AuthorID: "user_self", Body: "draft", SentAt: "2026-01-02T03:04:06Z", Status: models.StatusPending}, true)
	_ = r.AddMessage(id, models.Message{ID: "m2", AuthorID: "user_ana", Body: "reply", SentAt: "2026-01-02T03:04:07Z"}, false)

	err := r.AcknowledgeMessage(id, "local-1", Ack{ID: "srv-9", AuthorID: "user_self", Body: "draft", SentAt: "2026-01-02T03:04:06.5Z"})
	if err != nil {
		t.Fatal(err)
	}
	v, _ := r.Snapshot().Session(id)
	if len(v.Messages) != 2 {
		t.Fatalf("ack changed cardinality: %d", len(v.Messages))
	}
	// position preserved, id swapped, status settled
	if v.Messages[0].ID != "srv-9" || v.Messages[0].Status != models.StatusSent {
		t.Fatalf("rekey failed: %+v", v.Messages[0])
	}

	// the echoed copy arriving again under the server id is a no-op
	notified := 0
	defer r.Subscribe(func(Snapshot) { notified++ })()
	err = r.AcknowledgeMessage(id, "local-1", Ack{ID: "srv-9", AuthorID: "user_self", Body: "draft", SentAt: "2026-01-02T03:04:06.5Z"})
	if err != nil {
		t.Fatal(err)
	}
	if notified != 0 {
		t.Fatalf("duplicate ack notified %d times", notified)
	}
}

func TestAcknowledgeFoldsExistingServerCopy(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	id := directSession(t, r, "dm-1")

	_ = r.AddMessage(id, models.Message{ID: "local-1", AuthorID: "user_self", Body: "draft", SentAt: "2026-01-02T03:04:06Z", Status: models.StatusPending}, true)
	_ = r.AddMessage(id, models.Message{ID: "m2", AuthorID: "user_ana", Body: "reply", SentAt: "2026-01-02T03:04:07Z"}, false)
	// the server copy of the draft arrives first without a localId
	_ = r.AddMessage(id, models.Message{ID: "srv-9", AuthorID: "user_self", Body: "draft", SentAt: "2026-01-02T03:04:06.5Z", Status: models.StatusSent}, true)

	// the ack then names that same server id: the two entries must fold
	err := r.AcknowledgeMessage(id, "local-1", Ack{ID: "srv-9", AuthorID: "user_self", Body: "draft", SentAt: "2026-01-02T03:04:06.5Z"})
	if err != nil {
		t.Fatal(err)
	}
	v, _ := r.Snapshot().Session(id)
	if len(v.Messages) != 2 {
		t.Fatalf("fold left %d entries: %+v", len(v.Messages), v.Messages)
	}
	seen := map[string]int{}
	for _, m := range v.Messages {
		seen[m.ID]++
	}
	if seen["srv-9"] != 1 {
		t.Fatalf("message id no longer unique: %v", seen)
	}
	// the optimistic entry's earlier position survives
	if v.Messages[0].ID != "srv-9" || v.Messages[1].ID != "m2" {
		t.Fatalf("wrong order after fold: %+v", v.Messages)
	}
	if v.Messages[0].Status != models.StatusSent {
		t.Fatalf("folded entry status = %s", v.Messages[0].Status)
	}

	// the rebuilt index must still address both survivors in place
	_ = r.AddMessage(id, models.Message{ID: "srv-9", AuthorID: "user_self", Body: "edited", SentAt: "2026-01-02T03:04:06.5Z"}, true)
	v, _ = r.Snapshot().Session(id)
	if len(v.Messages) != 2 || v.Messages[0].Body != "edited" {
		t.Fatalf("index stale after fold: %+v", v.Messages)
	}
}

func TestAcknowledgeUnknownLocalFallsBackToAppend(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	id := directSession(t, r, "dm-1")
	err := r.AcknowledgeMessage(id, "never-seen", Ack{ID: "srv-1", AuthorID: "user_ana", Body: "late", SentAt: "2026-01-02T03:04:06Z"})
	if err != nil {
		t.Fatal(err)
	}
	v, _ := r.Snapshot().Session(id)
	if len(v.Messages) != 1 || v.Messages[0].ID != "srv-1" || v.Messages[0].Status != models.StatusSent {
		t.Fatalf("fallback append failed: %+v", v.Messages)
	}
}

func TestSentIsTerminal(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	id := directSession(t, r, "dm-1")
	_ = r.AddMessage(id, models.Message{ID: "m1", AuthorID: "user_ana", Body: "hi", SentAt: "2026-01-02T03:04:06Z", Status: models.StatusSent}, false)

	_ = r.AddMessage(id, models.Message{ID: "m1", AuthorID: "user_ana", Body: "hi", SentAt: "2026-01-02T03:04:06Z", Status: models.StatusFailed}, false)
	if v, _ := r.Snapshot().Session(id); v.Messages[0].Status != models.StatusSent {
		t.Fatalf("sent regressed to %s", v.Messages[0].Status)
	}
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()

	r, _ := newTestRegistry(t, nil)
	id := directSession(t, r, "dm-1")

	if _, err := r.Send(ctx, id, "   \n "); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
	if _, err := r.Send(ctx, "nope", "hi"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	// no resolved identity yet
	anon := New(Options{Storage: storage.NewMemory()})
	anon.Hydrate()
	t.Cleanup(anon.Close)
	if _, err := anon.Send(ctx, "dm-1", "hi"); !errors.Is(err, ErrIdentityNotReady) {
		t.Fatalf("expected ErrIdentityNotReady, got %v", err)
	}
}

func TestSendCollapsesWhitespace(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	id := directSession(t, r, "dm-1")
	msg, err := r.Send(context.Background(), id, "  hello\n\n  world\t!  ")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Body != "hello world !" {
		t.Fatalf("body = %q", msg.Body)
	}
	if msg.Status != models.StatusPending {
		t.Fatalf("optimistic message status = %s", msg.Status)
	}
	v, _ := r.Snapshot().Session(id)
	if len(v.Messages) != 1 || v.Messages[0].ID != msg.ID {
		t.Fatalf("optimistic message not in ledger: %+v", v.Messages)
	}
}
