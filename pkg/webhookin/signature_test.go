package webhookin_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EcMarius/numz.ai-sub009/pkg/webhookin"
)

func TestSignPayload(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)

	t.Run("produces a verifiable header", func(t *testing.T) {
		t.Parallel()

		header, err := webhookin.SignPayload("secret", []byte(`{"id":"evt_1"}`), now)
		require.NoError(t, err)
		assert.Contains(t, header, fmt.Sprintf("t=%d", now.Unix()))
		assert.Contains(t, header, "v1=")

		assert.NoError(t, webhookin.VerifySignature("secret", []byte(`{"id":"evt_1"}`), header, 5*time.Minute, now))
	})

	t.Run("requires a secret", func(t *testing.T) {
		t.Parallel()
		_, err := webhookin.SignPayload("", []byte("x"), now)
		assert.ErrorIs(t, err, webhookin.ErrInvalidConfiguration)
	})

	t.Run("requires a payload", func(t *testing.T) {
		t.Parallel()
		_, err := webhookin.SignPayload("secret", nil, now)
		assert.ErrorIs(t, err, webhookin.ErrInvalidPayload)
	})
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"evt_1","type":"subscription.updated"}`)
	header, err := webhookin.SignPayload("secret", payload, now)
	require.NoError(t, err)

	t.Run("tampered payload", func(t *testing.T) {
		t.Parallel()
		err := webhookin.VerifySignature("secret", []byte(`{"id":"evt_2"}`), header, 5*time.Minute, now)
		assert.ErrorIs(t, err, webhookin.ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		err := webhookin.VerifySignature("other", payload, header, 5*time.Minute, now)
		assert.ErrorIs(t, err, webhookin.ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		t.Parallel()
		err := webhookin.VerifySignature("secret", payload, "", 5*time.Minute, now)
		assert.ErrorIs(t, err, webhookin.ErrMissingSignature)
	})

	t.Run("malformed header", func(t *testing.T) {
		t.Parallel()
		err := webhookin.VerifySignature("secret", payload, "not-a-signature", 5*time.Minute, now)
		assert.ErrorIs(t, err, webhookin.ErrInvalidSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		t.Parallel()
		err := webhookin.VerifySignature("secret", payload, header, 5*time.Minute, now.Add(10*time.Minute))
		assert.ErrorIs(t, err, webhookin.ErrTimestampOutOfRange)
	})

	t.Run("far-future timestamp", func(t *testing.T) {
		t.Parallel()
		err := webhookin.VerifySignature("secret", payload, header, 5*time.Minute, now.Add(-10*time.Minute))
		assert.ErrorIs(t, err, webhookin.ErrTimestampOutOfRange)
	})

	t.Run("accepts any matching signature during secret rotation", func(t *testing.T) {
		t.Parallel()

		oldSig, err := webhookin.SignPayload("old-secret", payload, now)
		require.NoError(t, err)
		newSig, err := webhookin.SignPayload("new-secret", payload, now)
		require.NoError(t, err)
		// Rotating senders emit one v1 per active secret.
		combined := oldSig + "," + newSig[len(fmt.Sprintf("t=%d,", now.Unix())):]

		assert.NoError(t, webhookin.VerifySignature("new-secret", payload, combined, 5*time.Minute, now))
		assert.NoError(t, webhookin.VerifySignature("old-secret", payload, combined, 5*time.Minute, now))
		assert.ErrorIs(t, webhookin.VerifySignature("third-secret", payload, combined, 5*time.Minute, now), webhookin.ErrInvalidSignature)
	})
}
