// Package auth guards operator endpoints with API keys.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrMissingKey indicates that the Authorization header was not provided.
	ErrMissingKey = errors.New("missing API key")
	// ErrInvalidPrefix indicates the header did not use the required Key prefix.
	ErrInvalidPrefix = errors.New("invalid authorization prefix")
	// ErrUnknownKey indicates the key is not one of the configured keys.
	ErrUnknownKey = errors.New("unknown API key")
)

// ExtractKey parses an "Authorization: Key <token>" header.
func ExtractKey(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingKey
	}

	if !strings.HasPrefix(header, "Key ") {
		return "", ErrInvalidPrefix
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Key "))
	if token == "" {
		return "", ErrMissingKey
	}

	return token, nil
}

// KeySet is the set of accepted API keys.
type KeySet struct {
	keys [][]byte
}

func NewKeySet(keys ...string) KeySet {
	var ks KeySet
	for _, k := range keys {
		if k != "" {
			ks.keys = append(ks.keys, []byte(k))
		}
	}
	return ks
}

// Empty reports whether no keys are configured.
func (ks KeySet) Empty() bool { return len(ks.keys) == 0 }

// Verify checks the request's key against the set.
func (ks KeySet) Verify(r *http.Request) error {
	token, err := ExtractKey(r)
	if err != nil {
		return err
	}
	found := 0
	for _, k := range ks.keys {
		found |= subtle.ConstantTimeCompare(k, []byte(token))
	}
	if found != 1 {
		return ErrUnknownKey
	}
	return nil
}

// Middleware rejects requests without a valid key. An empty set rejects
// everything.
func (ks KeySet) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := ks.Verify(r); err != nil {
			w.Header().Set("WWW-Authenticate", "Key")
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
