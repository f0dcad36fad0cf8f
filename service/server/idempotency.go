package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/solwallet/service/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader    = "Idempotency-Key"
	idempotentReplayHeader  = "Idempotent-Replayed"
	idempotencyPrefix       = "solwallet:idempotency:v1:"
	maxIdempotencyKeyLength = 255
	idempotencyStoreTimeout = 2 * time.Second
)

// storedResponse is what Redis holds for a key. Status 0 marks a request
// that is still being processed.
type storedResponse struct {
	Status      int    `json:"status"`
	Body        string `json:"body,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	RequestHash string `json:"request_hash"`
}

// Idempotency makes unsafe requests replayable by Idempotency-Key. The first
// request with a key runs; later ones get the stored response, or 409 while
// the first is still running. Reusing a key with a different body is a 422.
type Idempotency struct {
	cache   *redis.Client
	ttl     time.Duration
	timeout time.Duration // per Redis call
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewIdempotency creates the middleware factory. If m is nil, no metrics are recorded.
func NewIdempotency(cache *redis.Client, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *Idempotency {
	return &Idempotency{cache: cache, ttl: ttl, timeout: idempotencyStoreTimeout, metrics: m, logger: logger}
}

// storeContext bounds a single Redis call. It is detached from the request
// so the final response is stored even after the client has gone away.
func (i *Idempotency) storeContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), i.timeout)
}

func (i *Idempotency) record(result string) {
	if i.metrics != nil {
		i.metrics.RecordIdempotencyLookup(result)
	}
}

// Middleware wraps next. When required is false, requests without a key
// pass straight through.
func (i *Idempotency) Middleware(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(idempotencyKeyHeader)
			if key == "" {
				if required {
					writeError(w, errorResponse{Error: "Idempotency-Key header is required"}, http.StatusBadRequest)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLength {
				writeError(w, errorResponse{Error: "Idempotency-Key header is too long"}, http.StatusBadRequest)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize+1))
			if err != nil {
				writeError(w, errorResponse{Error: "failed to read request body"}, http.StatusBadRequest)
				return
			}
			if len(body) > maxRequestBodySize {
				writeError(w, errorResponse{Error: "request body too large"}, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(body)
			hash := hex.EncodeToString(sum[:])

			cacheKey := idempotencyPrefix + r.Method + ":" + r.URL.Path + ":" + key
			marker, _ := json.Marshal(storedResponse{RequestHash: hash})
			ctx, cancel := i.storeContext(r)
			reserved, err := i.cache.SetNX(ctx, cacheKey, marker, i.ttl).Result()
			cancel()
			if err != nil {
				i.record("error")
				i.logger.ErrorContext(r.Context(), "idempotency reservation failed", "key", key, "error", err)
				writeError(w, errorResponse{Error: "idempotency store unavailable", Retryable: true}, http.StatusServiceUnavailable)
				return
			}
			if !reserved {
				i.replay(w, r, cacheKey, key, hash)
				return
			}
			i.record("miss")

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			i.store(r, cacheKey, key, hash, rec)
		})
	}
}

func (i *Idempotency) replay(w http.ResponseWriter, r *http.Request, cacheKey, key, hash string) {
	ctx, cancel := i.storeContext(r)
	raw, err := i.cache.Get(ctx, cacheKey).Bytes()
	cancel()
	if errors.Is(err, redis.Nil) {
		// Expired between the reservation attempt and now.
		i.record("conflict")
		writeError(w, errorResponse{Error: "request with this Idempotency-Key is being processed", Retryable: true}, http.StatusConflict)
		return
	}
	if err != nil {
		i.record("error")
		i.logger.ErrorContext(r.Context(), "idempotency lookup failed", "key", key, "error", err)
		writeError(w, errorResponse{Error: "idempotency store unavailable", Retryable: true}, http.StatusServiceUnavailable)
		return
	}

	var stored storedResponse
	if err := json.Unmarshal(raw, &stored); err != nil {
		i.record("error")
		i.logger.WarnContext(r.Context(), "failed to decode stored idempotent response", "key", key, "error", err)
		writeError(w, errorResponse{Error: "duplicate request"}, http.StatusConflict)
		return
	}
	if stored.RequestHash != hash {
		i.record("mismatch")
		writeError(w, errorResponse{Error: "Idempotency-Key was already used with a different request"}, http.StatusUnprocessableEntity)
		return
	}
	if stored.Status == 0 {
		i.record("conflict")
		writeError(w, errorResponse{Error: "request with this Idempotency-Key is being processed", Retryable: true}, http.StatusConflict)
		return
	}

	i.record("replay")
	i.logger.InfoContext(r.Context(), "replaying idempotent response", "key", key, "status", stored.Status)
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(idempotentReplayHeader, "true")
	w.WriteHeader(stored.Status)
	io.WriteString(w, stored.Body)
}

// store saves the final response, or releases the key when the response says
// the request may be retried. The handler may have run far longer than the
// store timeout, so the deadline starts here.
func (i *Idempotency) store(r *http.Request, cacheKey, key, hash string, rec *recordingWriter) {
	ctx, cancel := i.storeContext(r)
	defer cancel()

	if rec.status >= http.StatusInternalServerError && retryableBody(rec.body.Bytes()) {
		if err := i.cache.Del(ctx, cacheKey).Err(); err != nil {
			i.logger.ErrorContext(r.Context(), "failed to release idempotency key", "key", key, "error", err)
		}
		return
	}

	payload, err := json.Marshal(storedResponse{
		Status:      rec.status,
		Body:        rec.body.String(),
		ContentType: rec.Header().Get("Content-Type"),
		RequestHash: hash,
	})
	if err != nil {
		i.logger.ErrorContext(r.Context(), "failed to encode idempotent response", "key", key, "error", err)
		return
	}
	if err := i.cache.Set(ctx, cacheKey, payload, i.ttl).Err(); err != nil {
		// The reservation stays in place until it expires, so a retry gets
		// 409 rather than a second transfer.
		i.logger.ErrorContext(r.Context(), "failed to persist idempotent response", "key", key, "error", err)
	}
}

func retryableBody(body []byte) bool {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false
	}
	return resp.Retryable
}

// recordingWriter passes the response through while keeping a copy.
type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
