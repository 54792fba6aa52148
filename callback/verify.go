package callback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	HeaderTimestamp = "X-Slack-Request-Timestamp"
	HeaderSignature = "X-Slack-Signature"

	signatureVersion = "v0"
	DefaultMaxSkew   = 5 * time.Minute
)

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrStaleRequest     = errors.New("request timestamp outside allowed window")
	ErrBadSignature     = errors.New("request signature mismatch")
)

// Sign computes the signature header value for body sent at ts.
func Sign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s:", signatureVersion, ts)
	mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signed request. The timestamp must be within maxSkew of
// now in either direction.
func Verify(secret, ts, sig string, body []byte, now time.Time, maxSkew time.Duration) error {
	if ts == "" || sig == "" {
		return ErrMissingSignature
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", ErrStaleRequest, ts)
	}
	skew := now.Sub(time.Unix(sec, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return fmt.Errorf("%w: %s", ErrStaleRequest, skew.Truncate(time.Second))
	}
	if !hmac.Equal([]byte(Sign(secret, ts, body)), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}
