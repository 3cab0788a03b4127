// Package privacylog keeps identity material and message content out of log
// output. Peer identifiers are replaced by a per-boot fingerprint so lines
// about the same peer still correlate within one run, and payload-bearing
// keys are redacted outright.
package privacylog

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

const redactedValue = "[REDACTED]"

var (
	bootNonce = randomNonce()

	// fingerprintKeys carry peer identities in plain form on the wire but
	// never in logs.
	fingerprintKeys = map[string]struct{}{
		"peer":       {},
		"peer_id":    {},
		"from":       {},
		"to":         {},
		"public_key": {},
		"sender":     {},
	}
	// sensitiveKeyParts match any key that could carry payloads or secrets.
	sensitiveKeyParts = []string{
		"content", "message", "blob", "sdp", "candidate",
		"mnemonic", "passphrase", "secret", "token", "password",
	}
)

// SanitizingHandler rewrites attributes before the wrapped handler sees them.
type SanitizingHandler struct {
	next slog.Handler
}

func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &SanitizingHandler{next: next}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(SanitizeAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	sanitized := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		sanitized = append(sanitized, SanitizeAttr(attr))
	}
	return &SanitizingHandler{next: h.next.WithAttrs(sanitized)}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

func SanitizeAttr(attr slog.Attr) slog.Attr {
	key := strings.TrimSpace(attr.Key)
	lowerKey := strings.ToLower(key)
	if isSensitiveKey(lowerKey) {
		return slog.String(key, redactedValue)
	}
	if _, ok := fingerprintKeys[lowerKey]; ok {
		return slog.String(key+"_fp", FingerprintID(valueToString(attr.Value)))
	}
	return attr
}

// FingerprintID maps an identifier to a short stable-within-boot handle.
// Hashing includes a boot nonce, so fingerprints cannot be joined across
// runs or rainbow-tabled back to public keys.
func FingerprintID(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(trimmed + "|" + bootNonce))
	return "fp_" + base58.Encode(sum[:8])
}

func isSensitiveKey(key string) bool {
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func valueToString(v slog.Value) string {
	if v.Kind() == slog.KindString {
		return v.String()
	}
	return fmt.Sprint(v.Any())
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "fallback_nonce"
	}
	return base58.Encode(buf)
}
