package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"
)

const (
	secretPrefix     = "whsec_"
	defaultTolerance = 5 * time.Minute
)

var (
	ErrMissingSignature = errors.New("missing webhook signature headers")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrExpiredSignature = errors.New("webhook timestamp outside tolerance")
)

// Verifier checks Svix-style webhook signatures as sent by the inbound email
// provider. A Verifier with no secret accepts every request.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
}

func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &Verifier{}, nil
	}
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	key := []byte(secret)
	if strings.HasPrefix(secret, secretPrefix) {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
		if err != nil {
			return nil, fmt.Errorf("decode webhook secret: %w", err)
		}
		key = decoded
	}
	return &Verifier{secret: key, tolerance: tolerance}, nil
}

func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify validates the signature headers against body.
func (v *Verifier) Verify(header http.Header, body []byte, now time.Time) error {
	if !v.Enabled() {
		return nil
	}
	id := firstHeader(header, "svix-id", "webhook-id")
	timestamp := firstHeader(header, "svix-timestamp", "webhook-timestamp")
	signatures := firstHeader(header, "svix-signature", "webhook-signature")
	if id == "" || timestamp == "" || signatures == "" {
		return ErrMissingSignature
	}

	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	drift := now.Sub(time.Unix(seconds, 0))
	if math.Abs(float64(drift)) > float64(v.tolerance) {
		return ErrExpiredSignature
	}

	expected := v.Sign(id, seconds, body)
	for _, candidate := range strings.Fields(signatures) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign returns the base64 v1 signature for a delivery.
func (v *Verifier) Sign(id string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(id))
	mac.Write([]byte("."))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func NormalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(email))
	if trimmed == "" {
		return "", errors.New("email is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", errors.New("email must be valid")
	}
	return strings.ToLower(addr.Address), nil
}

func firstHeader(header http.Header, names ...string) string {
	for _, name := range names {
		if value := strings.TrimSpace(header.Get(name)); value != "" {
			return value
		}
	}
	return ""
}
