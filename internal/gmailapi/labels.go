package gmailapi

import (
	"context"
	"fmt"
	"sync"

	gmailapiv1 "google.golang.org/api/gmail/v1"

	"github.com/lu-zhengda/icloud-to-gmail/internal/migerr"
)

// LabelStore is the subset of StateDB's label operations LabelCache needs,
// kept as an interface so the cache can be tested without a real StateDB.
type LabelStore interface {
	GetLabelID(ctx context.Context, customLabel string) (id string, found bool, err error)
	SetLabelID(ctx context.Context, customLabel, gmailLabelID string) error
}

// LabelCache resolves a custom label path to a Gmail label id, creating
// the label on first use and persisting the mapping through LabelStore so
// later runs never recreate it.
type LabelCache struct {
	client *Client
	store  LabelStore

	mu     sync.Mutex
	memory map[string]string
}

func NewLabelCache(client *Client, store LabelStore) *LabelCache {
	return &LabelCache{client: client, store: store, memory: make(map[string]string)}
}

// Warm preloads the given label -> id mappings into the in-memory cache,
// avoiding a store lookup for them; it does not read the backing store.
func (lc *LabelCache) Warm(ctx context.Context, mappings map[string]string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	for label, id := range mappings {
		lc.memory[label] = id
	}
}

// Resolve returns the Gmail label id for customLabel, creating it via
// users.labels.create if it has never been seen before.
func (lc *LabelCache) Resolve(ctx context.Context, customLabel string) (string, error) {
	lc.mu.Lock()
	if id, ok := lc.memory[customLabel]; ok {
		lc.mu.Unlock()
		return id, nil
	}
	lc.mu.Unlock()

	if id, found, err := lc.store.GetLabelID(ctx, customLabel); err != nil {
		return "", fmt.Errorf("lookup label %q: %w", customLabel, err)
	} else if found {
		lc.remember(customLabel, id)
		return id, nil
	}

	created, err := lc.client.service.Users.Labels.Create(userID, &gmailapiv1.Label{
		Name:                  customLabel,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", migerr.New(migerr.RemoteRejected, "create label "+customLabel, err)
	}

	if err := lc.store.SetLabelID(ctx, customLabel, created.Id); err != nil {
		return "", fmt.Errorf("persist label mapping %q: %w", customLabel, err)
	}
	lc.remember(customLabel, created.Id)
	return created.Id, nil
}

func (lc *LabelCache) remember(label, id string) {
	lc.mu.Lock()
	lc.memory[label] = id
	lc.mu.Unlock()
}
