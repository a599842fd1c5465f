package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// authIterations is the OWASP-recommended minimum for HMAC-SHA256.
	authIterations = 480_000

	// authKeyLen is the derived key length in bytes.
	authKeyLen = 32
)

// AuthConfig configures API authentication. When KeyHash is set, the
// presented key is stretched with PBKDF2 and compared against it; otherwise
// APIKey is compared directly. If both are empty, authentication is
// disabled.
type AuthConfig struct {
	// APIKey is the plaintext key, for development setups.
	APIKey string
	// KeyHash is the hex PBKDF2-SHA256 digest of the key.
	KeyHash string
	// KeySalt is the hex salt used to derive KeyHash.
	KeySalt string
}

// HashAPIKey derives the hex digest of key with the given salt, matching
// what the Auth middleware computes. Used by the key provisioning flow.
func HashAPIKey(key string, salt []byte) string {
	dk := pbkdf2.Key([]byte(key), salt, authIterations, authKeyLen, sha256.New)
	return hex.EncodeToString(dk)
}

// Auth returns middleware that validates API requests using either a Bearer
// token in the Authorization header or a static key in the X-API-Key header.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	hash, _ := hex.DecodeString(cfg.KeyHash)
	salt, _ := hex.DecodeString(cfg.KeySalt)
	hashed := len(hash) == authKeyLen && len(salt) > 0

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// If no key is configured, authentication is disabled.
			if !hashed && cfg.APIKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}

			if hashed {
				dk := pbkdf2.Key([]byte(token), salt, authIterations, authKeyLen, sha256.New)
				if subtle.ConstantTimeCompare(dk, hash) != 1 {
					writeUnauthorized(w, "invalid authentication token")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// Constant-time comparison to prevent timing attacks.
			if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) != 1 {
				writeUnauthorized(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
