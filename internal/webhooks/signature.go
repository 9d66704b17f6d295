package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// HMACVerifier checks a hex HMAC-SHA256 of the body, optionally behind a "sha256=" style prefix.
type HMACVerifier struct {
	Prefix string
}

// Verify implements Verifier.
func (v HMACVerifier) Verify(payload []byte, signature string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}
	signature = strings.TrimSpace(signature)
	if v.Prefix != "" {
		if !strings.HasPrefix(signature, v.Prefix) {
			return false
		}
		signature = strings.TrimPrefix(signature, v.Prefix)
	}
	if signature == "" {
		return false
	}
	expected := computeSignature(secret, nil, payload)
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

// TimestampedVerifier checks headers of the form "t=<unix>,v1=<hex>" where the MAC covers "<unix>.<body>".
type TimestampedVerifier struct {
	MaxSkew time.Duration
	Now     func() time.Time
}

// Verify implements Verifier.
func (v TimestampedVerifier) Verify(payload []byte, signature string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}
	var timestamp string
	var candidates []string
	for _, part := range strings.Split(signature, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			candidates = append(candidates, strings.ToLower(value))
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	skew := now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if v.MaxSkew > 0 && skew > v.MaxSkew {
		return false
	}
	expected := []byte(computeSignature(secret, []byte(timestamp+"."), payload))
	for _, candidate := range candidates {
		if hmac.Equal([]byte(candidate), expected) {
			return true
		}
	}
	return false
}

// Sign returns the hex HMAC-SHA256 of prefix followed by body.
func Sign(secret []byte, prefix, body []byte) string {
	return computeSignature(secret, prefix, body)
}

func computeSignature(secret []byte, prefix, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(prefix)
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
