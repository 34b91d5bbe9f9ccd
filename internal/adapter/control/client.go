// Package control maintains the gateway's persistent websocket session to the
// backend's model-management channel. One session, lazily established, with
// load and unload strictly serialised so the backend never sees overlapping
// lifecycle operations.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/corralhq/corral/internal/core/domain"
	"github.com/corralhq/corral/internal/logger"
)

const (
	connectAttempts = 3
	connectInterval = 2 * time.Second
	dialTimeout     = 5 * time.Second
	writeWait       = 10 * time.Second

	listTimeout   = 10 * time.Second
	loadTimeout   = 60 * time.Second
	unloadTimeout = 30 * time.Second
)

type Client struct {
	log    *logger.StyledLogger
	dialer *websocket.Dialer
	url    string

	// sessMu guards the connection and serialises call/response pairs.
	sessMu sync.Mutex
	conn   *websocket.Conn
	nextID uint64

	// opMu serialises load/unload end to end, including the list calls a
	// resolution needs. Read-only calls bypass it.
	opMu sync.Mutex
}

func NewClient(controlURL string, log *logger.StyledLogger) *Client {
	return &Client{
		url: controlURL,
		log: log,
		dialer: &websocket.Dialer{
			HandshakeTimeout: dialTimeout,
		},
	}
}

// ListLoaded returns the model instances currently resident in the backend.
func (c *Client) ListLoaded(ctx context.Context) ([]domain.LoadedModel, error) {
	raw, err := c.call(ctx, opListLoaded, nil, listTimeout)
	if err != nil {
		return nil, err
	}
	var models []domain.LoadedModel
	if err := json.Unmarshal(raw, &models); err != nil {
		return nil, fmt.Errorf("control: decoding loaded models: %w", err)
	}
	return models, nil
}

// ListDownloaded returns the models available on the backend's disk.
func (c *Client) ListDownloaded(ctx context.Context) ([]domain.DownloadedModel, error) {
	raw, err := c.call(ctx, opListDownloaded, nil, listTimeout)
	if err != nil {
		return nil, err
	}
	var models []domain.DownloadedModel
	if err := json.Unmarshal(raw, &models); err != nil {
		return nil, fmt.Errorf("control: decoding downloaded models: %w", err)
	}
	return models, nil
}

// LoadModel loads the given model into the backend and returns the resulting
// instance. Serialised against other load/unload operations. The backend
// reports load progress in interim frames; each is forwarded to onProgress
// when non-nil.
func (c *Client) LoadModel(ctx context.Context, modelKey, identifier string, cfg *domain.LoadConfig, onProgress func(float64)) (*domain.LoadedModel, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	params := loadParams{Path: modelKey, Identifier: identifier}
	if cfg != nil {
		params.Config = cfg
	}

	started := time.Now()
	raw, err := c.callWithProgress(ctx, opLoad, params, loadTimeout, onProgress)
	if err != nil {
		return nil, err
	}

	var loaded domain.LoadedModel
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return nil, fmt.Errorf("control: decoding load result: %w", err)
	}
	if loaded.Path == "" {
		loaded.Path = modelKey
	}
	c.log.InfoWithModel("Model loaded", loaded.Identifier,
		"path", loaded.Path, "duration", time.Since(started).Round(time.Millisecond))
	return &loaded, nil
}

// UnloadModel resolves the target against the loaded instances and unloads
// it. A non-empty instanceID is matched against instance identifiers; failing
// that, modelKey is matched against model paths. Returns
// domain.ErrModelNotFound when nothing matches.
func (c *Client) UnloadModel(ctx context.Context, modelKey, instanceID string) (*domain.LoadedModel, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	loaded, err := c.ListLoaded(ctx)
	if err != nil {
		return nil, err
	}

	resolved := resolveInstance(loaded, modelKey, instanceID)
	if resolved == nil {
		target := instanceID
		if target == "" {
			target = modelKey
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrModelNotFound, target)
	}

	if _, err := c.call(ctx, opUnload, unloadParams{Identifier: resolved.Identifier}, unloadTimeout); err != nil {
		return nil, err
	}
	c.log.InfoWithModel("Model unloaded", resolved.Identifier, "path", resolved.Path)
	return resolved, nil
}

// Health verifies the control channel is responsive.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.ListLoaded(ctx)
	return err
}

// Close tears down the session. Safe to call with no session established.
func (c *Client) Close() error {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func resolveInstance(loaded []domain.LoadedModel, modelKey, instanceID string) *domain.LoadedModel {
	if instanceID != "" {
		for i := range loaded {
			if loaded[i].Identifier == instanceID {
				return &loaded[i]
			}
		}
	}
	if modelKey != "" {
		for i := range loaded {
			if loaded[i].Path == modelKey {
				return &loaded[i]
			}
		}
	}
	return nil
}

// call performs one request/response round trip, establishing the session
// first when needed. Any I/O failure invalidates the session so the next call
// reconnects from scratch.
func (c *Client) call(ctx context.Context, op string, params any, timeout time.Duration) (json.RawMessage, error) {
	return c.callWithProgress(ctx, op, params, timeout, nil)
}

// callWithProgress is call with interim progress frames forwarded to
// onProgress. The timeout is absolute for the whole exchange; progress frames
// do not extend it.
func (c *Client) callWithProgress(ctx context.Context, op string, params any, timeout time.Duration, onProgress func(float64)) (json.RawMessage, error) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()

	if err := c.ensureSessionLocked(ctx); err != nil {
		return nil, err
	}

	c.nextID++
	req := request{ID: c.nextID, Op: op, Params: params}

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(req); err != nil {
		c.invalidateLocked()
		return nil, fmt.Errorf("%w: writing %s: %w", domain.ErrBackendUnavailable, op, err)
	}

	if err := c.conn.SetReadDeadline(deadline); err != nil {
		c.invalidateLocked()
		return nil, fmt.Errorf("control: setting read deadline: %w", err)
	}

	for {
		var resp response
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.invalidateLocked()
			return nil, fmt.Errorf("%w: reading %s response: %w", domain.ErrBackendUnavailable, op, err)
		}
		if resp.ID != req.ID {
			c.invalidateLocked()
			return nil, fmt.Errorf("control: response id %d does not match request id %d", resp.ID, req.ID)
		}
		if resp.isProgress() {
			if onProgress != nil {
				onProgress(*resp.Progress)
			}
			continue
		}
		if resp.Error != nil {
			// The session survived; only the operation failed.
			return nil, fmt.Errorf("control: %s failed: %w", op, resp.Error)
		}
		return resp.Result, nil
	}
}

func (c *Client) ensureSessionLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		conn, err := c.connectOnce(ctx)
		if err == nil {
			c.conn = conn
			c.log.Debug("Control session established", "url", c.url, "attempt", attempt)
			return nil
		}
		lastErr = err
		c.log.Warn("Control connect attempt failed",
			"url", c.url, "attempt", attempt, "error", err)

		if attempt == connectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, ctx.Err())
		case <-time.After(connectInterval):
		}
	}
	return fmt.Errorf("%w: %d connect attempts to %s failed: %w",
		domain.ErrBackendUnavailable, connectAttempts, c.url, lastErr)
}

// connectOnce dials and validates the session with a single liveness probe. A
// session that dials but cannot answer list_loaded is no session at all.
func (c *Client) connectOnce(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}

	c.nextID++
	probe := request{ID: c.nextID, Op: opListLoaded}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(probe); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("liveness probe write: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(listTimeout))
	var resp response
	if err := conn.ReadJSON(&resp); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("liveness probe read: %w", err)
	}
	if resp.ID != probe.ID {
		_ = conn.Close()
		return nil, fmt.Errorf("liveness probe response id %d does not match %d", resp.ID, probe.ID)
	}
	return conn, nil
}

func (c *Client) invalidateLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.log.Debug("Control session invalidated")
}
