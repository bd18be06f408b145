package webhookin

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the name of the HTTP header carrying the payload
// signature, in the widely used `t=<unix>,v1=<hex>` format.
const SignatureHeader = "X-Webhook-Signature"

// signedPayload binds the signature to the timestamp to prevent replay
// of a captured request with a fresh timestamp.
func signedPayload(timestamp int64, payload []byte) []byte {
	return fmt.Appendf(nil, "%d.%s", timestamp, payload)
}

// SignPayload computes the signature header value for a payload. Used
// by tests and by gateway simulators; production payloads are signed by
// the payment processor.
func SignPayload(secret string, payload []byte, at time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}

	timestamp := at.Unix()
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(signedPayload(timestamp, payload))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(h.Sum(nil))), nil
}

// VerifySignature validates a payload against its signature header.
// The timestamp must fall within tolerance of now; comparison is
// constant-time. A request failing verification must cause no side
// effects in the caller.
func VerifySignature(secret string, payload []byte, header string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if header == "" {
		return ErrMissingSignature
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}

	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(timestamp, 0))
		if age > tolerance {
			return fmt.Errorf("%w: signed %s ago", ErrTimestampOutOfRange, age)
		}
		// Small allowance for clock skew; far-future timestamps are
		// rejected outright.
		if age < -tolerance {
			return fmt.Errorf("%w: signed in the future", ErrTimestampOutOfRange)
		}
	}

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(signedPayload(timestamp, payload))
	expected := hex.EncodeToString(h.Sum(nil))

	// A header may carry several v1 signatures during secret rotation;
	// any single match accepts the payload.
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func parseSignatureHeader(header string) (int64, []string, error) {
	var (
		timestamp  int64
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: malformed timestamp", ErrInvalidSignature)
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: malformed signature header", ErrInvalidSignature)
	}
	return timestamp, signatures, nil
}
