package hmacauth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSignatureHeader = "X-Request-Signature"
	DefaultTimestampHeader = "X-Request-Timestamp"

	// DefaultMaxBodyBytes caps how much of a request is read to check its signature.
	DefaultMaxBodyBytes int64 = 64 << 10
)

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrMissingTimestamp = errors.New("missing request timestamp")
	ErrStaleTimestamp   = errors.New("stale request timestamp")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrBodyTooLarge     = errors.New("request body too large")
)

// Verifier checks hex(HMAC-SHA256(secret, timestamp || body)) on incoming
// requests. An empty Secret disables verification.
type Verifier struct {
	Secret          string
	MaxSkew         time.Duration
	SignatureHeader string
	TimestampHeader string
	// MaxBodyBytes defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
	Now          func() time.Time
}

// Middleware rejects unsigned or tampered requests before next sees them.
// The body handed to next is the one that was verified.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v.Secret == "" {
			next.ServeHTTP(w, r)
			return
		}
		body, err := v.check(w, r)
		if err != nil {
			code := http.StatusUnauthorized
			if errors.Is(err, ErrBodyTooLarge) {
				code = http.StatusRequestEntityTooLarge
			}
			http.Error(w, err.Error(), code)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (v *Verifier) check(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	sig := strings.ToLower(strings.TrimSpace(r.Header.Get(orDefault(v.SignatureHeader, DefaultSignatureHeader))))
	if sig == "" {
		return nil, ErrMissingSignature
	}
	stamp := strings.TrimSpace(r.Header.Get(orDefault(v.TimestampHeader, DefaultTimestampHeader)))
	sent, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return nil, ErrMissingTimestamp
	}
	if skew := v.now().Sub(time.Unix(sent, 0)).Abs(); skew > v.MaxSkew {
		return nil, ErrStaleTimestamp
	}

	body, err := v.readLimited(w, r)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal([]byte(Sign(v.Secret, stamp, body)), []byte(sig)) {
		return nil, ErrInvalidSignature
	}
	return body, nil
}

func (v *Verifier) readLimited(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	limit := v.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, ErrBodyTooLarge
		}
		return nil, err
	}
	return body, nil
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func orDefault(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}

// Sign computes the signature a client sends for body at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
