// Package crypto provides request signing and credential handling for the
// exchange REST API.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Signer produces authentication material for private exchange endpoints.
//
// Each authenticated request carries the API key, a strictly increasing nonce
// (wall-clock milliseconds), and a signature computed as
//
//	base64(HMAC-SHA512(decodedSecret, path + SHA256(nonce + body)))
//
// binding the signature to the endpoint path, the request body, and the nonce
// so a captured request can be neither replayed nor tampered with.
type Signer struct {
	apiKey string
	secret []byte

	mu        sync.Mutex
	lastNonce int64
}

// NewSigner builds a Signer from an API key and a base64-encoded secret.
func NewSigner(apiKey, apiSecret string) (*Signer, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("crypto: api key and secret are required")
	}
	secret, err := base64.StdEncoding.DecodeString(apiSecret)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode api secret: %w", err)
	}
	return &Signer{apiKey: apiKey, secret: secret}, nil
}

// Key returns the API key sent in the key header.
func (s *Signer) Key() string { return s.apiKey }

// Nonce returns a strictly increasing millisecond nonce. Consecutive calls
// within the same millisecond are bumped so the venue never sees a repeat.
func (s *Signer) Nonce() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := time.Now().UnixMilli()
	if n <= s.lastNonce {
		n = s.lastNonce + 1
	}
	s.lastNonce = n
	return n
}

// Sign computes the signature header value for a request to path with the
// given nonce and url-encoded body. The body must already contain the nonce
// field.
func (s *Signer) Sign(path string, nonce int64, body string) string {
	inner := sha256.Sum256([]byte(strconv.FormatInt(nonce, 10) + body))

	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
