package registry

import (
	"testing"

	"chatsync/pkg/models"
)

func TestSanitizeDirectDropsExtraParticipants(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	id := r.EnsureSession(Descriptor{
		ID:   "dm-1",
		Type: string(models.TypeDirect),
		Participants: []map[string]any{
			part("user_self", "Self"),
			part("user_ana", "Ana"),
			part("user_ben", "Ben"),
		},
	})
	v, ok := r.Snapshot().Session(id)
	if !ok {
		t.Fatal("session missing from snapshot")
	}
	if v.Type != models.TypeDirect {
		t.Fatalf("expected direct, got %s", v.Type)
	}
	// extras are dropped, never promoted to a group: self plus the first peer
	if len(v.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d: %+v", len(v.Participants), v.Participants)
	}
	if v.Participants[0].ID != "user_self" || v.Participants[1].ID != "user_ana" {
		t.Fatalf("wrong survivors: %+v", v.Participants)
	}
}

func TestSanitizeGroupInference(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	// reserved id shape forces group even with two participants
	id := r.EnsureSession(Descriptor{
		ID:           "group-42",
		Participants: []map[string]any{part("user_ana", "Ana")},
	})
	if v, _ := r.Snapshot().Session(id); v.Type != models.TypeGroup {
		t.Fatalf("group id shape not honored: %s", v.Type)
	}

	// untyped descriptor with more than two distinct members becomes a group
	id = r.EnsureSession(Descriptor{
		ID: "conv-7",
		Participants: []map[string]any{
			part("user_ana", "Ana"),
			part("user_ben", "Ben"),
		},
	})
	v, _ := r.Snapshot().Session(id)
	if v.Type != models.TypeGroup {
		t.Fatalf("expected group for 3 members, got %s", v.Type)
	}
	if len(v.Participants) != 3 {
		t.Fatalf("group must keep all members, got %d", len(v.Participants))
	}
}

func TestSanitizeNeverDemotesGroup(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	r.EnsureSession(Descriptor{
		ID:   "conv-9",
		Type: string(models.TypeGroup),
		Participants: []map[string]any{
			part("user_ana", "Ana"),
		},
	})
	// a later direct-typed descriptor must not demote the session
	r.EnsureSession(Descriptor{
		ID:   "conv-9",
		Type: string(models.TypeDirect),
	})
	if v, _ := r.Snapshot().Session("conv-9"); v.Type != models.TypeGroup {
		t.Fatalf("group demoted to %s", v.Type)
	}
}

func TestSanitizeMetadataFillsOnly(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	r.EnsureSession(Descriptor{ID: "conv-3", Title: "Original"})
	r.EnsureSession(Descriptor{ID: "conv-3", Title: "Overwrite", Avatar: "g.png"})
	v, _ := r.Snapshot().Session("conv-3")
	if v.Title != "Original" {
		t.Fatalf("existing title clobbered: %q", v.Title)
	}
	if v.Avatar != "g.png" {
		t.Fatalf("empty avatar not filled: %q", v.Avatar)
	}
}

func TestDisplayTitles(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	// direct: the sole peer's name
	r.EnsureSession(Descriptor{
		ID:           "dm-ana",
		Type:         string(models.TypeDirect),
		Participants: []map[string]any{part("user_ana", "Ana")},
	})
	if v, _ := r.Snapshot().Session("dm-ana"); v.Title != "Ana" {
		t.Fatalf("direct title = %q", v.Title)
	}

	// explicit title always wins
	r.EnsureSession(Descriptor{
		ID:           "dm-titled",
		Type:         string(models.TypeDirect),
		Title:        "Pinned",
		Participants: []map[string]any{part("user_ana", "Ana")},
	})
	if v, _ := r.Snapshot().Session("dm-titled"); v.Title != "Pinned" {
		t.Fatalf("explicit title lost: %q", v.Title)
	}

	cases := []struct {
		id    string
		peers []map[string]any
		want  string
	}{
		{"group-empty", nil, "Group chat"},
		{"group-one", []map[string]any{part("user_ana", "Ana")}, "Ana & you"},
		{"group-two", []map[string]any{part("user_ana", "Ana"), part("user_ben", "Ben")}, "Ana & Ben"},
		{"group-four", []map[string]any{
			part("user_ana", "Ana"), part("user_ben", "Ben"),
			part("user_cid", "Cid"), part("user_dee", "Dee"),
		}, "Ana, Ben +2"},
	}
	for _, tc := range cases {
		r.EnsureSession(Descriptor{ID: tc.id, Participants: tc.peers})
		v, ok := r.Snapshot().Session(tc.id)
		if !ok {
			t.Fatalf("%s missing", tc.id)
		}
		if v.Title != tc.want {
			t.Fatalf("%s title = %q, want %q", tc.id, v.Title, tc.want)
		}
	}
}

func TestEnsureSessionEmptyID(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	if id := r.EnsureSession(Descriptor{Participants: []map[string]any{part("user_ana", "Ana")}}); id != "" {
		t.Fatalf("descriptor without id created session %q", id)
	}
	if n := len(r.Snapshot().Sessions); n != 0 {
		t.Fatalf("expected no sessions, got %d", n)
	}
}
