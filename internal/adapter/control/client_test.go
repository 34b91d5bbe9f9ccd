package control

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/core/domain"
	"github.com/corralhq/corral/internal/logger"
	"github.com/corralhq/corral/theme"
)

func testLogger() *logger.StyledLogger {
	return logger.NewStyledLogger(
		slog.New(slog.NewTextHandler(io.Discard, nil)), theme.Default())
}

// fakeBackend answers control frames with canned per-op handlers. Ops with
// registered progress values emit those as interim frames before the result.
type fakeBackend struct {
	t        *testing.T
	handlers map[string]func(params json.RawMessage) (any, *wireError)
	progress map[string][]float64
	server   *httptest.Server

	mu    sync.Mutex
	dials int
}

func (fb *fakeBackend) dialCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.dials
}

func (fb *fakeBackend) setHandler(op string, h func(json.RawMessage) (any, *wireError)) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.handlers[op] = h
}

func (fb *fakeBackend) handler(op string) (func(json.RawMessage) (any, *wireError), bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	h, ok := fb.handlers[op]
	return h, ok
}

func (fb *fakeBackend) setProgress(op string, values []float64) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.progress[op] = values
}

func (fb *fakeBackend) progressFor(op string) []float64 {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.progress[op]
}

func newFakeBackend(t *testing.T) *fakeBackend {
	fb := &fakeBackend{
		t:        t,
		handlers: map[string]func(json.RawMessage) (any, *wireError){},
		progress: map[string][]float64{},
	}
	// Connect-time liveness probes need an answer in every test.
	fb.setHandler(opListLoaded, func(json.RawMessage) (any, *wireError) {
		return []domain.LoadedModel{}, nil
	})
	upgrader := websocket.Upgrader{}
	fb.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		fb.dials++
		fb.mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req struct {
				ID     uint64          `json:"id"`
				Op     string          `json:"op"`
				Params json.RawMessage `json:"params"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			handler, ok := fb.handler(req.Op)
			if !ok {
				fb.t.Errorf("unexpected op %q", req.Op)
				return
			}
			result, wireErr := handler(req.Params)
			for _, p := range fb.progressFor(req.Op) {
				if err := conn.WriteJSON(map[string]any{"id": req.ID, "progress": p}); err != nil {
					return
				}
			}
			resp := map[string]any{"id": req.ID}
			if wireErr != nil {
				resp["error"] = wireErr
			} else {
				resp["result"] = result
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBackend) wsURL() string {
	return "ws" + strings.TrimPrefix(fb.server.URL, "http")
}

func TestClient_ListLoaded(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setHandler(opListLoaded, func(json.RawMessage) (any, *wireError) {
		return []domain.LoadedModel{
			{Path: "llama-3.1-8b", Identifier: "llama-3.1-8b"},
			{Path: "llama-3.1-8b", Identifier: "llama-3.1-8b:2"},
		}, nil
	})

	c := NewClient(fb.wsURL(), testLogger())
	defer c.Close()

	models, err := c.ListLoaded(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama-3.1-8b:2", models[1].Identifier)
}

func TestClient_ListDownloaded(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setHandler(opListDownloaded, func(json.RawMessage) (any, *wireError) {
		return []domain.DownloadedModel{
			{Path: "llama-3.1-8b", Type: "llm", SizeBytes: 4_920_000_000},
		}, nil
	})

	c := NewClient(fb.wsURL(), testLogger())
	defer c.Close()

	models, err := c.ListDownloaded(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, int64(4_920_000_000), models[0].SizeBytes)
}

func TestClient_SessionReusedAcrossCalls(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setHandler(opListLoaded, func(json.RawMessage) (any, *wireError) {
		return []domain.LoadedModel{}, nil
	})

	c := NewClient(fb.wsURL(), testLogger())
	defer c.Close()

	for i := 0; i < 3; i++ {
		_, err := c.ListLoaded(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fb.dialCount())
}

func TestClient_LoadModel(t *testing.T) {
	fb := newFakeBackend(t)
	paramsCh := make(chan loadParams, 1)
	fb.setHandler(opLoad, func(params json.RawMessage) (any, *wireError) {
		var p loadParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &wireError{Message: err.Error()}
		}
		paramsCh <- p
		return domain.LoadedModel{Path: p.Path, Identifier: p.Path + ":1"}, nil
	})

	c := NewClient(fb.wsURL(), testLogger())
	defer c.Close()

	ctxLen := 8192
	loaded, err := c.LoadModel(context.Background(), "qwen2.5-7b", "", &domain.LoadConfig{
		ContextLength: &ctxLen,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-7b:1", loaded.Identifier)
	gotParams := <-paramsCh
	assert.Equal(t, "qwen2.5-7b", gotParams.Path)
}

func TestClient_LoadModelProgress(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setProgress(opLoad, []float64{0.25, 0.5, 0.95})
	fb.setHandler(opLoad, func(params json.RawMessage) (any, *wireError) {
		var p loadParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &wireError{Message: err.Error()}
		}
		return domain.LoadedModel{Path: p.Path, Identifier: p.Path + ":1"}, nil
	})

	c := NewClient(fb.wsURL(), testLogger())
	defer c.Close()

	var reported []float64
	loaded, err := c.LoadModel(context.Background(), "qwen2.5-7b", "", nil, func(p float64) {
		reported = append(reported, p)
	})
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-7b:1", loaded.Identifier)
	assert.Equal(t, []float64{0.25, 0.5, 0.95}, reported)
}

func TestClient_LoadModelBackendError(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setHandler(opLoad, func(json.RawMessage) (any, *wireError) {
		return nil, &wireError{Code: "insufficient_memory", Message: "not enough VRAM"}
	})

	c := NewClient(fb.wsURL(), testLogger())
	defer c.Close()

	_, err := c.LoadModel(context.Background(), "huge-model", "", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough VRAM")
	assert.NotErrorIs(t, err, domain.ErrBackendUnavailable)

	// A backend-level error must not tear down the session.
	fb.setHandler(opListLoaded, func(json.RawMessage) (any, *wireError) {
		return []domain.LoadedModel{}, nil
	})
	_, err = c.ListLoaded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fb.dialCount())
}

func TestClient_UnloadResolvesInstanceFirst(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setHandler(opListLoaded, func(json.RawMessage) (any, *wireError) {
		return []domain.LoadedModel{
			{Path: "llama-3.1-8b", Identifier: "llama-3.1-8b"},
			{Path: "llama-3.1-8b", Identifier: "llama-3.1-8b:2"},
		}, nil
	})
	unloadedCh := make(chan unloadParams, 1)
	fb.setHandler(opUnload, func(params json.RawMessage) (any, *wireError) {
		var p unloadParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &wireError{Message: err.Error()}
		}
		unloadedCh <- p
		return map[string]any{"ok": true}, nil
	})

	c := NewClient(fb.wsURL(), testLogger())
	defer c.Close()

	resolved, err := c.UnloadModel(context.Background(), "", "llama-3.1-8b:2")
	require.NoError(t, err)
	assert.Equal(t, "llama-3.1-8b:2", resolved.Identifier)
	unloaded := <-unloadedCh
	assert.Equal(t, "llama-3.1-8b:2", unloaded.Identifier)
}

func TestClient_UnloadResolvesByPath(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setHandler(opListLoaded, func(json.RawMessage) (any, *wireError) {
		return []domain.LoadedModel{
			{Path: "qwen2.5-7b", Identifier: "qwen2.5-7b:4"},
		}, nil
	})
	fb.setHandler(opUnload, func(json.RawMessage) (any, *wireError) {
		return map[string]any{"ok": true}, nil
	})

	c := NewClient(fb.wsURL(), testLogger())
	defer c.Close()

	resolved, err := c.UnloadModel(context.Background(), "qwen2.5-7b", "")
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-7b:4", resolved.Identifier)
}

func TestClient_UnloadUnknownTarget(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setHandler(opListLoaded, func(json.RawMessage) (any, *wireError) {
		return []domain.LoadedModel{}, nil
	})

	c := NewClient(fb.wsURL(), testLogger())
	defer c.Close()

	_, err := c.UnloadModel(context.Background(), "no-such-model", "")
	assert.ErrorIs(t, err, domain.ErrModelNotFound)
}

func TestClient_ReconnectsAfterServerDrop(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setHandler(opListLoaded, func(json.RawMessage) (any, *wireError) {
		return []domain.LoadedModel{}, nil
	})

	c := NewClient(fb.wsURL(), testLogger())
	defer c.Close()

	_, err := c.ListLoaded(context.Background())
	require.NoError(t, err)

	// Kill the live session from the client side to simulate a drop; the
	// next call must fail once, then a fresh call reconnects.
	c.sessMu.Lock()
	require.NoError(t, c.conn.Close())
	c.sessMu.Unlock()

	_, err = c.ListLoaded(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)

	_, err = c.ListLoaded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fb.dialCount())
}

func TestClient_ConnectFailureAfterRetries(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/control", testLogger())

	start := time.Now()
	_, err := c.ListLoaded(context.Background())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
	// Three attempts with two waits between them.
	assert.GreaterOrEqual(t, elapsed, 2*connectInterval)
}

func TestResolveInstance(t *testing.T) {
	loaded := []domain.LoadedModel{
		{Path: "a", Identifier: "a:1"},
		{Path: "b", Identifier: "b"},
	}

	assert.Equal(t, "a:1", resolveInstance(loaded, "", "a:1").Identifier)
	assert.Equal(t, "a:1", resolveInstance(loaded, "a", "").Identifier)
	assert.Equal(t, "b", resolveInstance(loaded, "b", "").Identifier)
	// Instance id takes priority over a path that would also match.
	assert.Equal(t, "b", resolveInstance(loaded, "a", "b").Identifier)
	assert.Nil(t, resolveInstance(loaded, "missing", ""))
}
