package registry

import (
	"testing"

	"chatsync/pkg/models"
)

func TestNormalizeParticipant(t *testing.T) {
	p, ok := normalizeParticipant(map[string]any{"userId": "USER-Ana1", "displayName": "Ana", "avatarUrl": "a.png"})
	if !ok {
		t.Fatal("expected entry to normalize")
	}
	if p.ID != "user_ana1" || p.Name != "Ana" || p.Avatar != "a.png" {
		t.Fatalf("unexpected participant: %+v", p)
	}

	// no resolvable identity at all
	if _, ok := normalizeParticipant(map[string]any{"name": "ghost"}); ok {
		t.Fatal("entry without identity should be dropped")
	}

	// name falls back to the resolved id
	p, ok = normalizeParticipant(map[string]any{"id": "user_ben2"})
	if !ok || p.Name != "user_ben2" {
		t.Fatalf("expected name fallback to id, got %+v, ok=%v", p, ok)
	}
}

func TestMergeParticipantsDedup(t *testing.T) {
	a := []models.Participant{
		{ID: "user_ana", Name: "Ana"},
		{ID: "user_ben", Name: "user_ben"},
	}
	b := []models.Participant{
		{ID: "user_ben", Name: "Ben", Avatar: "b.png"},
		{ID: "user_ana", Name: "Ana"},
		{ID: "user_cid", Name: "Cid"},
	}
	out := mergeParticipants(a, b)
	if len(out) != 3 {
		t.Fatalf("expected 3 distinct participants, got %d", len(out))
	}
	// first occurrence keeps position
	if out[0].ID != "user_ana" || out[1].ID != "user_ben" || out[2].ID != "user_cid" {
		t.Fatalf("order not preserved: %+v", out)
	}
	// later entry upgraded the fallback name and filled the avatar
	if out[1].Name != "Ben" || out[1].Avatar != "b.png" {
		t.Fatalf("expected name/avatar upgrade, got %+v", out[1])
	}
}

func TestMergeParticipantsIgnoresFallbackName(t *testing.T) {
	a := []models.Participant{{ID: "user_ana", Name: "Ana"}}
	// a bare-id "name" is a fallback, not information; it must not clobber
	b := []models.Participant{{ID: "user_ana", Name: "user_ana"}}
	out := mergeParticipants(a, b)
	if len(out) != 1 || out[0].Name != "Ana" {
		t.Fatalf("fallback name overwrote real name: %+v", out)
	}
}

func TestMergeParticipantsIdempotent(t *testing.T) {
	in := []models.Participant{{ID: "user_ana", Name: "Ana"}, {ID: "user_ben", Name: "Ben"}}
	once := mergeParticipants(in)
	twice := mergeParticipants(once, once)
	if len(twice) != len(once) {
		t.Fatalf("re-merge changed cardinality: %d -> %d", len(once), len(twice))
	}
	for i := range once {
		if twice[i] != once[i] {
			t.Fatalf("re-merge changed entry %d: %+v vs %+v", i, once[i], twice[i])
		}
	}
}
