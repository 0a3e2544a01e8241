package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/star-cafe/api/internal/platform/auth"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
)

// Logger abstracts the logging dependency used inside the middleware.
type Logger interface {
	Printf(format string, args ...any)
}

type clockFunc func() time.Time

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	methods    map[string]struct{}
	clock      clockFunc
	logger     Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header carrying the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		name = strings.TrimSpace(name)
		if name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed records are retained.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods restricts which HTTP methods the middleware guards.
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if len(methods) == 0 {
			return
		}
		cfg.methods = make(map[string]struct{}, len(methods))
		for _, method := range methods {
			method = strings.ToUpper(strings.TrimSpace(method))
			if method == "" {
				continue
			}
			cfg.methods[method] = struct{}{}
		}
	}
}

// WithLogger injects a logger for persistence errors.
func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

// WithClock overrides the time source, primarily for testing.
func WithClock(clock clockFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

func mutatingMethods() map[string]struct{} {
	return map[string]struct{}{
		http.MethodPost:   {},
		http.MethodPut:    {},
		http.MethodPatch:  {},
		http.MethodDelete: {},
	}
}

// Middleware makes checkout and order mutations safe to retry. Each guarded
// request must carry an idempotency key; the first request through reserves
// the key and records the handler's response, later requests with the same
// key and payload get that stored response back with a replay marker header.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods:    mutatingMethods(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.ttl <= 0 {
		cfg.ttl = DefaultTTL
	}
	if len(cfg.methods) == 0 {
		cfg.methods = mutatingMethods()
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := cfg.methods[r.Method]; !ok {
				next.ServeHTTP(w, r)
				return
			}
			cfg.serve(store, next, w, r)
		})
	}
}

func (cfg *middlewareConfig) serve(store Store, next http.Handler, w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get(cfg.headerName))
	if key == "" {
		writeJSONError(w, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
		return
	}

	body, err := readAndReplayBody(r)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "idempotency_read_body_failed", "unable to read request body")
		return
	}

	identity := extractRequester(r.Context())
	fingerprint := requestFingerprint(r, body, identity)
	storeKey := scopedKey(key, identity)
	now := cfg.clock().UTC()

	reservation, err := store.Reserve(r.Context(), storeKey, fingerprint, now, cfg.ttl)
	if err != nil {
		cfg.writeStoreError(w, err)
		return
	}

	switch reservation.State {
	case ReservationStateCompleted:
		replayRecord(w, reservation.Record)
		return
	case ReservationStatePending:
		writeJSONError(w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
		return
	case ReservationStateNew:
		// First time through, run the handler.
	default:
		writeJSONError(w, http.StatusInternalServerError, "idempotency_unknown_state", "unexpected idempotency state")
		return
	}

	buffered := bufferResponse(w)
	next.ServeHTTP(buffered, r)

	response := Response{
		Status:  buffered.Status(),
		Headers: buffered.HeaderSnapshot(),
		Body:    buffered.Body(),
	}

	if err := store.SaveResponse(r.Context(), storeKey, fingerprint, response, cfg.clock().UTC(), cfg.ttl); err != nil {
		if cfg.logger != nil {
			cfg.logger.Printf("idempotency: failed to persist response for key %s (identity %s): %v", key, identity, err)
		}
		if releaseErr := store.Release(r.Context(), storeKey, fingerprint); releaseErr != nil && cfg.logger != nil {
			cfg.logger.Printf("idempotency: failed to release key %s after save failure: %v", key, releaseErr)
		}
		writeJSONError(w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}

	if err := buffered.Commit(); err != nil && cfg.logger != nil {
		cfg.logger.Printf("idempotency: failed to flush response for key %s: %v", key, err)
	}
}

func (cfg *middlewareConfig) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrFingerprintMismatch) {
		writeJSONError(w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	}
	if cfg.logger != nil {
		cfg.logger.Printf("idempotency: store error: %v", err)
	}
	writeJSONError(w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
}

// readAndReplayBody drains the request body and puts an equivalent reader
// back so the handler still sees it.
func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// requestFingerprint binds the key to the full request shape so a reused key
// with a different payload is rejected rather than replayed.
func requestFingerprint(r *http.Request, body []byte, identity string) string {
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Host,
		r.Header.Get("Content-Type"),
		identity,
		bodyDigest(body),
	}
	return sha256Hex([]byte(strings.Join(parts, "|")))
}

func extractRequester(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		return identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc != nil && svc.Subject != "" {
		return svc.Subject
	}
	return "anonymous"
}

func bodyDigest(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	return sha256Hex(body)
}

// scopedKey namespaces the client-supplied key per requester so two customers
// reusing the same key value never collide.
func scopedKey(key, identity string) string {
	key = strings.TrimSpace(key)
	identity = strings.TrimSpace(identity)
	if identity == "" {
		identity = "anonymous"
	}
	if key == "" {
		return identity
	}
	return key + "|" + identity
}

func replayRecord(w http.ResponseWriter, record Record) {
	for key := range w.Header() {
		w.Header().Del(key)
	}
	for key, values := range headersFromRecord(record.ResponseHeaders) {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
	})
}

// bufferedResponse holds the handler's output until the record is persisted,
// so clients never see a response the store failed to save.
type bufferedResponse struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func bufferResponse(parent http.ResponseWriter) *bufferedResponse {
	return &bufferedResponse{
		parent: parent,
		header: make(http.Header),
	}
}

func (b *bufferedResponse) Header() http.Header {
	return b.header
}

func (b *bufferedResponse) WriteHeader(status int) {
	if status <= 0 {
		status = http.StatusOK
	}
	b.status = status
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedResponse) Status() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedResponse) Body() []byte {
	if b.body.Len() == 0 {
		return nil
	}
	return b.body.Bytes()
}

func (b *bufferedResponse) HeaderSnapshot() http.Header {
	if len(b.header) == 0 {
		return http.Header{}
	}
	snapshot := make(http.Header, len(b.header))
	for key, values := range b.header {
		copied := make([]string, len(values))
		copy(copied, values)
		snapshot[key] = copied
	}
	return snapshot
}

func (b *bufferedResponse) Commit() error {
	dst := b.parent.Header()
	for key := range dst {
		dst.Del(key)
	}
	for key, values := range b.header {
		for _, value := range values {
			dst.Add(key, value)
		}
	}

	b.parent.WriteHeader(b.Status())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := b.parent.Write(b.body.Bytes())
	return err
}
