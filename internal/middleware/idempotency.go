package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"

	idempotencyInFlight = "in-flight"
	maxIdempotencyKey   = 128
)

// IdempotencyStore is the subset of redis commands the middleware needs.
// Satisfied by *redis.Client.
type IdempotencyStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Idempotency replays the first completed response of a write request that
// carries an Idempotency-Key header. Keys are scoped to the caller and the
// request path. A duplicate arriving while the first is still running gets 409.
// Responses with status >= 500 are not stored so the client can retry.
// Redis failures degrade to pass-through.
func Idempotency(store IdempotencyStore, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" || r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKey {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "idempotency key too long"})
				return
			}

			redisKey := idempotencyKey(r, key)
			ctx := r.Context()

			acquired, err := store.SetNX(ctx, redisKey, idempotencyInFlight, ttl).Result()
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("idempotency store unavailable")
				next.ServeHTTP(w, r)
				return
			}

			if !acquired {
				replay(w, store, ctx, redisKey)
				return
			}

			rec := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// The request context may already be cancelled once the handler returns.
			saveCtx := context.WithoutCancel(ctx)
			if rec.status >= http.StatusInternalServerError {
				if err := store.Del(saveCtx, redisKey).Err(); err != nil {
					log.Warn().Err(err).Str("key", key).Msg("release idempotency key")
				}
				return
			}

			payload, err := json.Marshal(storedResponse{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
			if err != nil {
				log.Error().Err(err).Msg("marshal idempotent response")
				return
			}
			if err := store.Set(saveCtx, redisKey, payload, ttl).Err(); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("store idempotent response")
			}
		})
	}
}

func replay(w http.ResponseWriter, store IdempotencyStore, ctx context.Context, redisKey string) {
	val, err := store.Get(ctx, redisKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			writeJSON(w, http.StatusConflict, map[string]string{"error": "request with this idempotency key is in progress"})
			return
		}
		log.Warn().Err(err).Msg("read idempotent response")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "idempotency store unavailable"})
		return
	}
	if val == idempotencyInFlight {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "request with this idempotency key is in progress"})
		return
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		log.Error().Err(err).Msg("decode idempotent response")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(stored.Status)
	w.Write(stored.Body)
}

func idempotencyKey(r *http.Request, key string) string {
	subject := "anonymous"
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		subject = claims.UserID.String()
	}
	return "idempotency:" + subject + ":" + r.Method + ":" + r.URL.Path + ":" + key
}

type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	if !c.wroteHeader {
		c.status = status
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.wroteHeader = true
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
