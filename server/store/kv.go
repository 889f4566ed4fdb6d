package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

const (
	// DefaultTimeout bounds every store call when no timeout is configured
	DefaultTimeout = 5 * time.Second

	listPageSize = 1000

	// maxCASAttempts bounds compare-and-set retries on contended keys
	maxCASAttempts = 5
)

// KV is the subset of key-value operations the stores need.
// A nil value returned by Get means the key does not exist or has expired.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte, ttl time.Duration) error
	// CompareAndSet writes newValue only if the stored value equals oldValue.
	// A nil oldValue means the key must not exist.
	CompareAndSet(key string, oldValue, newValue []byte, ttl time.Duration) (bool, error)
	Delete(key string) error
	ListKeys(prefix string) ([]string, error)
}

// pluginKV implements KV on top of the Mattermost plugin KV store
type pluginKV struct {
	api plugin.API
}

// NewPluginKV creates a KV backed by the plugin API
func NewPluginKV(api plugin.API) KV {
	return &pluginKV{api: api}
}

func (p *pluginKV) Get(key string) ([]byte, error) {
	data, appErr := p.api.KVGet(key)
	if appErr != nil {
		return nil, appErr
	}
	return data, nil
}

func (p *pluginKV) Set(key string, value []byte, ttl time.Duration) error {
	_, appErr := p.api.KVSetWithOptions(key, value, model.PluginKVSetOptions{
		ExpireInSeconds: expireSeconds(ttl),
	})
	if appErr != nil {
		return appErr
	}
	return nil
}

func (p *pluginKV) CompareAndSet(key string, oldValue, newValue []byte, ttl time.Duration) (bool, error) {
	ok, appErr := p.api.KVSetWithOptions(key, newValue, model.PluginKVSetOptions{
		Atomic:          true,
		OldValue:        oldValue,
		ExpireInSeconds: expireSeconds(ttl),
	})
	if appErr != nil {
		return false, appErr
	}
	return ok, nil
}

func (p *pluginKV) Delete(key string) error {
	if appErr := p.api.KVDelete(key); appErr != nil {
		return appErr
	}
	return nil
}

func (p *pluginKV) ListKeys(prefix string) ([]string, error) {
	var matched []string
	for page := 0; ; page++ {
		keys, appErr := p.api.KVList(page, listPageSize)
		if appErr != nil {
			return nil, appErr
		}

		for _, key := range keys {
			if strings.HasPrefix(key, prefix) {
				matched = append(matched, key)
			}
		}

		if len(keys) < listPageSize {
			return matched, nil
		}
	}
}

// expireSeconds rounds a TTL up to whole seconds. Zero means no expiry.
func expireSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return int64(math.Ceil(ttl.Seconds()))
}

// Client wraps a KV with a per-call deadline and the error mapping shared by all stores.
// Every failure leaving a store matches crisis.ErrStoreUnavailable unless it is a
// domain sentinel such as crisis.ErrAlertNotFound.
type Client struct {
	kv      KV
	timeout atomic.Int64
	now     func() time.Time
}

// NewClient creates a store client. A non-positive timeout selects DefaultTimeout.
func NewClient(kv KV, timeout time.Duration) *Client {
	c := &Client{kv: kv, now: time.Now}
	c.SetTimeout(timeout)
	return c
}

// SetTimeout changes the per-call deadline, e.g. after a configuration change
func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.timeout.Store(int64(timeout))
}

// Timeout returns the current per-call deadline
func (c *Client) Timeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

// SetClock overrides the clock used for TTL calculations
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}

// call runs fn under the client deadline. A timeout or a KV error is reported as
// crisis.ErrStoreUnavailable. Results written by fn must not be read when call fails.
func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		if err != nil {
			return crisis.Unavailable(op, err)
		}
		return nil
	case <-ctx.Done():
		return crisis.Unavailable(op, ctx.Err())
	}
}

func (c *Client) get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := c.call(ctx, "get "+key, func() error {
		var err error
		data, err = c.kv.Get(key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.call(ctx, "set "+key, func() error {
		return c.kv.Set(key, value, ttl)
	})
}

func (c *Client) compareAndSet(ctx context.Context, key string, oldValue, newValue []byte, ttl time.Duration) (bool, error) {
	var ok bool
	err := c.call(ctx, "compare and set "+key, func() error {
		var err error
		ok, err = c.kv.CompareAndSet(key, oldValue, newValue, ttl)
		return err
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (c *Client) delete(ctx context.Context, key string) error {
	return c.call(ctx, "delete "+key, func() error {
		return c.kv.Delete(key)
	})
}

func (c *Client) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := c.call(ctx, "list "+prefix, func() error {
		var err error
		keys, err = c.kv.ListKeys(prefix)
		return err
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// getJSON loads and decodes a value. found is false when the key does not exist.
func (c *Client) getJSON(ctx context.Context, key string, v any) ([]byte, bool, error) {
	data, err := c.get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if data == nil {
		return nil, false, nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return nil, false, crisis.Unavailable("decode "+key, fmt.Errorf("failed to unmarshal: %w", err))
	}
	return data, true, nil
}

// ttlUntil returns the remaining lifetime of an entity expiring at expiresAt
func (c *Client) ttlUntil(expiresAt time.Time) time.Duration {
	return expiresAt.Sub(c.now())
}

func marshal(key string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return data, nil
}
