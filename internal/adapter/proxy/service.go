// Package proxy forwards OpenAI-compatible requests to the backend, injecting
// the active model identity and its default sampling parameters where the
// client left them out. Streaming responses are relayed chunk by chunk with
// immediate flushing so tokens reach the client as they are generated.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/corralhq/corral/internal/adapter/state"
	"github.com/corralhq/corral/internal/core/constants"
	"github.com/corralhq/corral/internal/core/domain"
	"github.com/corralhq/corral/internal/events"
	"github.com/corralhq/corral/internal/logger"
	"github.com/corralhq/corral/internal/util"
	"github.com/corralhq/corral/pkg/format"
	"github.com/corralhq/corral/pkg/pool"
)

const (
	defaultStreamBufferSize = 8 * 1024

	defaultDialTimeout  = 60 * time.Second
	defaultKeepAlive    = 60 * time.Second
	maxIdleConns        = 20
	maxIdleConnsPerHost = 5
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
)

type Config struct {
	// Timeout bounds non-streaming round trips.
	Timeout time.Duration
	// StreamTimeout bounds streaming responses; zero means unbounded.
	StreamTimeout time.Duration
	// StreamBufferSize sizes the relay buffers.
	StreamBufferSize int
}

type Service struct {
	baseURL    *url.URL
	transport  *http.Transport
	cfg        Config
	store      *state.Store
	pub        *events.Publisher
	bufferPool *pool.Pool[*[]byte]
	log        *logger.StyledLogger
}

func NewService(backendBase string, cfg Config, store *state.Store, pub *events.Publisher, log *logger.StyledLogger) (*Service, error) {
	base, err := url.Parse(backendBase)
	if err != nil {
		return nil, fmt.Errorf("proxy: parsing backend base url: %w", err)
	}
	if cfg.StreamBufferSize <= 0 {
		cfg.StreamBufferSize = defaultStreamBufferSize
	}

	// TCP tuning for token streaming: keep connections alive and disable
	// Nagle so partial chunks leave immediately.
	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		DisableCompression:  true,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{
				Timeout:   defaultDialTimeout,
				KeepAlive: defaultKeepAlive,
			}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				if terr := tcpConn.SetNoDelay(true); terr != nil {
					log.Warn("failed to set NoDelay", "error", terr)
				}
			}
			return conn, nil
		},
	}

	bufferPool, err := pool.NewLitePool(func() *[]byte {
		b := make([]byte, cfg.StreamBufferSize)
		return &b
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		baseURL:    base,
		transport:  transport,
		cfg:        cfg,
		store:      store,
		pub:        pub,
		bufferPool: bufferPool,
		log:        log,
	}, nil
}

// bareShorthands are accepted without the /v1 prefix and rewritten before
// forwarding.
var bareShorthands = map[string]struct{}{
	"/chat/completions":     {},
	"/completions":          {},
	"/models":               {},
	"/embeddings":           {},
	"/images/generations":   {},
	"/audio/transcriptions": {},
	"/audio/translations":   {},
}

// RewritePath maps a request path to its forwarded form. Reports false for
// paths the proxy does not serve.
func RewritePath(path string) (string, bool) {
	if _, ok := bareShorthands[path]; ok {
		return "/v1" + path, true
	}
	if strings.HasPrefix(path, constants.DefaultOpenAIPathPrefix) {
		rest := strings.TrimPrefix(path, constants.DefaultOpenAIPathPrefix)
		switch {
		case rest == "admin", strings.HasPrefix(rest, "admin/"),
			rest == "debug", strings.HasPrefix(rest, "debug/"),
			rest == "health", strings.HasPrefix(rest, "health/"):
			return "", false
		}
		return path, true
	}
	return "", false
}

func isCompletionPath(path string) bool {
	return path == "/v1/chat/completions" || path == "/v1/completions"
}

// Handle proxies one request. The path must already be in its forwarded
// (/v1-prefixed) form.
func (s *Service) Handle(w http.ResponseWriter, r *http.Request, forwardPath string) {
	// Reuse the id assigned at the edge so the whole request logs one id.
	requestID := util.RequestIDFromContext(r.Context())
	if requestID == "" {
		requestID = util.GenerateRequestID()
	}
	rlog := s.log.With("request_id", requestID)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			rlog.Error("proxy panic recovered", "panic", rec, "method", r.Method, "path", forwardPath)
			s.recordFailure(requestID, fmt.Sprintf("internal error: %v", rec), start)
			if w.Header().Get(constants.HeaderContentType) == "" {
				writeJSONError(w, http.StatusInternalServerError, "internal server error")
			}
		}
	}()

	s.pub.Publish(constants.EventInferenceStart, domain.InferenceStartPayload{
		RequestID: requestID,
		Method:    r.Method,
		Path:      forwardPath,
	})

	body, streaming, err := s.prepareBody(r, forwardPath)
	if err != nil {
		rlog.Warn("reading request body failed", "error", err)
		s.recordFailure(requestID, err.Error(), start)
		writeJSONError(w, http.StatusBadRequest, "unable to read request body")
		return
	}

	isInference := isCompletionPath(forwardPath) && r.Method == http.MethodPost
	if isInference {
		s.store.BeginOperation(domain.OperationInference, "")
		defer s.store.EndOperation(domain.StatusIdle)
	}

	target := s.baseURL.ResolveReference(&url.URL{Path: forwardPath})
	if r.URL.RawQuery != "" {
		target.RawQuery = r.URL.RawQuery
	}

	ctx := r.Context()
	var cancel context.CancelFunc
	timeout := s.cfg.Timeout
	if streaming {
		timeout = s.cfg.StreamTimeout
	}
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	} else {
		reqBody = r.Body
	}

	proxyReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), reqBody)
	if err != nil {
		rlog.Error("building upstream request failed", "error", err)
		s.recordFailure(requestID, err.Error(), start)
		writeJSONError(w, http.StatusInternalServerError, "unable to build upstream request")
		return
	}
	copyRequestHeaders(proxyReq, r)
	if body != nil {
		proxyReq.ContentLength = int64(len(body))
	}

	rlog.Debug("forwarding request", "target", target.String(), "streaming", streaming)

	resp, err := s.transport.RoundTrip(proxyReq)
	if err != nil {
		rlog.Error("backend round-trip failed", "target", target.String(), "error", err)
		s.recordFailure(requestID, err.Error(), start)
		writeJSONError(w, http.StatusServiceUnavailable,
			fmt.Sprintf("backend unavailable: %v", err))
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}

	if streaming {
		s.relayStream(w, r, resp, requestID, start, rlog)
		return
	}
	s.relayBuffered(w, resp, requestID, start, rlog)
}

// relayBuffered forwards a complete response, pulling token usage out of the
// body when the backend reports it.
func (s *Service) relayBuffered(w http.ResponseWriter, resp *http.Response, requestID string, start time.Time, rlog *logger.StyledLogger) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		rlog.Error("reading backend response failed", "error", err)
		s.recordFailure(requestID, err.Error(), start)
		writeJSONError(w, http.StatusBadGateway, "backend response truncated")
		return
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(respBody); err != nil {
		rlog.Warn("writing response to client failed", "error", err)
		s.recordFailure(requestID, domain.ErrClientClosed.Error(), start)
		return
	}

	usage := extractTokenUsage(respBody)
	elapsed := time.Since(start).Milliseconds()

	s.pub.Publish(constants.EventInferenceComplete, domain.InferenceCompletePayload{
		RequestID:   requestID,
		TotalTimeMs: elapsed,
		TokenUsage:  usage,
	})
	s.store.RecordCompletion(domain.RequestRecord{
		Timestamp:  start,
		TimeMs:     &elapsed,
		TokenUsage: usage,
		RequestID:  requestID,
		Status:     domain.RequestCompleted,
	})
	rlog.Debug("proxy request completed", "status", resp.StatusCode, "latency", format.Latency(elapsed), "bytes", len(respBody))
}

// relayStream pipes backend chunks to the client verbatim, flushing after
// every write. A client disconnect tears the upstream down immediately.
func (s *Service) relayStream(w http.ResponseWriter, r *http.Request, resp *http.Response, requestID string, start time.Time, rlog *logger.StyledLogger) {
	w.WriteHeader(resp.StatusCode)
	flusher, canFlush := w.(http.Flusher)

	bufPtr := s.bufferPool.Get()
	defer s.bufferPool.Put(bufPtr)
	buf := *bufPtr

	totalBytes := 0
	for {
		select {
		case <-r.Context().Done():
			// Destroy the upstream stream; the backend must stop generating.
			resp.Body.Close()
			rlog.Info("client disconnected during streaming", "total_bytes", totalBytes)
			s.recordFailure(requestID, domain.ErrClientClosed.Error(), start)
			return
		default:
		}

		n, err := resp.Body.Read(buf)
		if n > 0 {
			totalBytes += n
			if _, werr := w.Write(buf[:n]); werr != nil {
				resp.Body.Close()
				rlog.Info("client write failed during streaming", "total_bytes", totalBytes, "error", werr)
				s.recordFailure(requestID, domain.ErrClientClosed.Error(), start)
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			if err == io.EOF {
				elapsed := time.Since(start).Milliseconds()
				s.pub.Publish(constants.EventInferenceComplete, domain.InferenceCompletePayload{
					RequestID:   requestID,
					TotalTimeMs: elapsed,
				})
				s.store.RecordCompletion(domain.RequestRecord{
					Timestamp: start,
					TimeMs:    &elapsed,
					RequestID: requestID,
					Status:    domain.RequestCompleted,
				})
				rlog.Debug("stream completed", "latency", format.Latency(elapsed), "total_bytes", format.Bytes(uint64(totalBytes)))
				return
			}
			rlog.Error("stream read failed", "total_bytes", totalBytes, "error", err)
			s.recordFailure(requestID, err.Error(), start)
			return
		}
	}
}

// prepareBody reads and augments a JSON completion request. For everything
// else the body passes through untouched (nil return). The second return
// reports whether the client asked for a streaming response.
func (s *Service) prepareBody(r *http.Request, forwardPath string) ([]byte, bool, error) {
	if !isCompletionPath(forwardPath) || r.Method != http.MethodPost {
		return nil, false, nil
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, false, err
	}
	r.Body.Close()

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		// Not a JSON object; forward as-is and let the backend complain.
		return raw, false, nil
	}

	active := s.store.ActiveModel()
	augmentBody(fields, active)

	streaming := false
	if v, ok := fields["stream"].(bool); ok {
		streaming = v
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return raw, streaming, nil
	}
	return out, streaming, nil
}

// augmentBody fills in the model identity and default sampling parameters.
// Client-provided fields always win.
func augmentBody(fields map[string]any, active *domain.ActiveModel) {
	if active == nil {
		return
	}

	if _, ok := fields["model"]; !ok {
		if id := active.PreferredIdentifier(); id != "" {
			fields["model"] = id
		}
	}

	di := active.DefaultInference
	if di == nil {
		return
	}
	setIfAbsent := func(key string, value any) {
		if _, ok := fields[key]; !ok {
			fields[key] = value
		}
	}
	if di.Temperature != nil {
		setIfAbsent("temperature", *di.Temperature)
	}
	if di.MaxTokens != nil {
		setIfAbsent("max_tokens", *di.MaxTokens)
	}
	if di.TopP != nil {
		setIfAbsent("top_p", *di.TopP)
	}
	if di.TopK != nil {
		setIfAbsent("top_k", *di.TopK)
	}
	if di.RepeatPenalty != nil {
		setIfAbsent("repeat_penalty", *di.RepeatPenalty)
	}
	if di.StopStrings != nil {
		setIfAbsent("stop", di.StopStrings)
	}
	if di.Stream != nil {
		setIfAbsent("stream", *di.Stream)
	}
}

// extractTokenUsage pulls the OpenAI usage block out of a response body.
func extractTokenUsage(body []byte) *domain.TokenUsage {
	usage := gjson.GetBytes(body, "usage")
	if !usage.IsObject() {
		return nil
	}
	return &domain.TokenUsage{
		Prompt:     int(usage.Get("prompt_tokens").Int()),
		Completion: int(usage.Get("completion_tokens").Int()),
		Total:      int(usage.Get("total_tokens").Int()),
	}
}

// skippedRequestHeaders are stripped before forwarding. The API key header
// must never leak to the backend.
var skippedRequestHeaders = map[string]struct{}{
	"Host":              {},
	"Connection":        {},
	"Transfer-Encoding": {},
	"Content-Length":    {},
	"X-Api-Key":         {},
}

func copyRequestHeaders(proxyReq, originalReq *http.Request) {
	for name, values := range originalReq.Header {
		if _, skip := skippedRequestHeaders[http.CanonicalHeaderKey(name)]; skip {
			continue
		}
		if len(values) == 1 {
			proxyReq.Header.Set(name, values[0])
		} else {
			headerValues := make([]string, len(values))
			copy(headerValues, values)
			proxyReq.Header[name] = headerValues
		}
	}
}

func (s *Service) recordFailure(requestID, errText string, start time.Time) {
	s.store.RecordError()
	s.pub.Publish(constants.EventError, domain.ErrorPayload{
		RequestID:   requestID,
		Error:       errText,
		TotalTimeMs: time.Since(start).Milliseconds(),
	})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
