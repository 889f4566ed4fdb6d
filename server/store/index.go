package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

// maxIndexAttempts bounds compare-and-set retries on an index document. Every
// failed attempt means another writer changed the document, so the bound only
// needs to exceed the number of concurrent writers on one key.
const maxIndexAttempts = 64

// Index documents hold the ids of related records as a JSON array under a single
// key. Reads follow them instead of listing the keyspace. Entries are added before
// the record they point to is written, so an index may name a record that does not
// exist (readers skip it) but never misses one that does.

// readIndex returns the ids in an index document and its raw value for
// compare-and-set. A missing document is an empty index with a nil raw value.
func (c *Client) readIndex(ctx context.Context, key string) ([]string, []byte, error) {
	var ids []string
	raw, found, err := c.getJSON(ctx, key, &ids)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, nil
	}
	return ids, raw, nil
}

// addToIndex adds ids to an index document and returns the ones that were not
// present yet
func (c *Client) addToIndex(ctx context.Context, key string, ids ...string) ([]string, error) {
	for attempt := 0; attempt < maxIndexAttempts; attempt++ {
		current, old, err := c.readIndex(ctx, key)
		if err != nil {
			return nil, err
		}

		var added []string
		for _, id := range ids {
			if !slices.Contains(current, id) && !slices.Contains(added, id) {
				added = append(added, id)
			}
		}
		if len(added) == 0 {
			return nil, nil
		}

		data, err := marshal(key, append(current, added...))
		if err != nil {
			return nil, err
		}

		ok, err := c.compareAndSet(ctx, key, old, data, 0)
		if err != nil {
			return nil, err
		}
		if ok {
			return added, nil
		}
	}

	return nil, crisis.Unavailable("update index", fmt.Errorf("index %s is contended", key))
}

// removeFromIndex drops ids from an index document. An emptied document is kept
// as an empty array so that a concurrent add is never lost to a delete.
func (c *Client) removeFromIndex(ctx context.Context, key string, ids ...string) error {
	for attempt := 0; attempt < maxIndexAttempts; attempt++ {
		current, old, err := c.readIndex(ctx, key)
		if err != nil {
			return err
		}
		if old == nil {
			return nil
		}

		kept := slices.DeleteFunc(slices.Clone(current), func(id string) bool {
			return slices.Contains(ids, id)
		})
		if len(kept) == len(current) {
			return nil
		}

		data, err := marshal(key, kept)
		if err != nil {
			return err
		}

		ok, err := c.compareAndSet(ctx, key, old, data, 0)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	return crisis.Unavailable("update index", fmt.Errorf("index %s is contended", key))
}
