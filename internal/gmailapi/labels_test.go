package gmailapi

import (
	"context"
	"testing"
)

type fakeLabelStore struct {
	ids map[string]string
	set map[string]string
}

func newFakeLabelStore() *fakeLabelStore {
	return &fakeLabelStore{ids: map[string]string{}, set: map[string]string{}}
}

func (f *fakeLabelStore) GetLabelID(_ context.Context, customLabel string) (string, bool, error) {
	id, ok := f.ids[customLabel]
	return id, ok, nil
}

func (f *fakeLabelStore) SetLabelID(_ context.Context, customLabel, gmailLabelID string) error {
	f.set[customLabel] = gmailLabelID
	return nil
}

func TestLabelCache_WarmHitAvoidsStoreLookup(t *testing.T) {
	store := newFakeLabelStore()
	lc := NewLabelCache(nil, store)
	lc.Warm(context.Background(), map[string]string{"iCloud/Inbox": "Label_1"})

	id, err := lc.Resolve(context.Background(), "iCloud/Inbox")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if id != "Label_1" {
		t.Errorf("id = %q, want Label_1", id)
	}
}

func TestLabelCache_StoreHitIsRemembered(t *testing.T) {
	store := newFakeLabelStore()
	store.ids["iCloud/Sent"] = "Label_2"
	lc := NewLabelCache(nil, store)

	id, err := lc.Resolve(context.Background(), "iCloud/Sent")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if id != "Label_2" {
		t.Errorf("id = %q, want Label_2", id)
	}

	lc.mu.Lock()
	_, cached := lc.memory["iCloud/Sent"]
	lc.mu.Unlock()
	if !cached {
		t.Error("a store hit should be remembered in the in-memory cache")
	}
}
