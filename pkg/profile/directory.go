// Package profile resolves author ids to display names and avatars, with
// per-user memoization so rendering a channel does not refetch the same
// profile per message.
package profile

import (
	"context"
	"sync"

	"github.com/ndanh/guildchat/pkg/backend"
	"github.com/ndanh/guildchat/pkg/model"
)

type Directory struct {
	rows backend.Rows

	mu    sync.RWMutex
	cache map[string]model.Profile
}

func NewDirectory(rows backend.Rows) *Directory {
	return &Directory{rows: rows, cache: make(map[string]model.Profile)}
}

// Lookup fetches the profile for userID, serving repeats from cache. An
// unknown user yields a profile with only the id set, which is also
// cached so missing rows are not refetched.
func (d *Directory) Lookup(ctx context.Context, userID string) (model.Profile, error) {
	d.mu.RLock()
	p, ok := d.cache[userID]
	d.mu.RUnlock()
	if ok {
		return p, nil
	}

	q := backend.Where("id", userID).Select("id,email,nickname,avatar_URL")
	var fetched model.Profile
	found, err := d.rows.MaybeSingle(ctx, "profiles", q, &fetched)
	if err != nil {
		return model.Profile{ID: userID}, err
	}
	if !found {
		fetched = model.Profile{ID: userID}
	}

	d.mu.Lock()
	d.cache[userID] = fetched
	d.mu.Unlock()
	return fetched, nil
}

// DisplayName is Lookup reduced to the rendered name; lookup failures
// fall back to the raw user id.
func (d *Directory) DisplayName(ctx context.Context, userID string) string {
	p, err := d.Lookup(ctx, userID)
	if err != nil {
		return userID
	}
	return p.DisplayName()
}
