package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// codeAt computes the expected RFC 6238 code independently of the
// implementation under test.
func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	require.NoError(t, err)

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(at.Unix())/30)
	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)
	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", code%1000000)
}

func TestVerifyTOTP(t *testing.T) {
	t.Parallel()

	secret, err := GenerateTOTPSecret()
	require.NoError(t, err)

	now := time.Unix(1700000000, 0)
	assert.True(t, VerifyTOTP(secret, codeAt(t, secret, now), now))
	assert.False(t, VerifyTOTP(secret, "000000", now))
	assert.False(t, VerifyTOTP(secret, "12345", now), "wrong length")
	assert.False(t, VerifyTOTP("not-base32!", "123456", now))
}

func TestVerifyTOTPSkewWindow(t *testing.T) {
	t.Parallel()

	secret, err := GenerateTOTPSecret()
	require.NoError(t, err)
	now := time.Unix(1700000015, 0)

	// One step behind and ahead are accepted, two steps are not.
	assert.True(t, VerifyTOTP(secret, codeAt(t, secret, now.Add(-30*time.Second)), now))
	assert.True(t, VerifyTOTP(secret, codeAt(t, secret, now.Add(30*time.Second)), now))

	past := codeAt(t, secret, now.Add(-60*time.Second))
	future := codeAt(t, secret, now.Add(60*time.Second))
	current := codeAt(t, secret, now)
	if past != current && past != codeAt(t, secret, now.Add(-30*time.Second)) && past != codeAt(t, secret, now.Add(30*time.Second)) {
		assert.False(t, VerifyTOTP(secret, past, now))
	}
	if future != current && future != codeAt(t, secret, now.Add(-30*time.Second)) && future != codeAt(t, secret, now.Add(30*time.Second)) {
		assert.False(t, VerifyTOTP(secret, future, now))
	}
}

func TestTOTPProvisioningURI(t *testing.T) {
	t.Parallel()

	uri := TOTPProvisioningURI("SECRET234", "dev@arbor.test", "Arbor Console")
	assert.Contains(t, uri, "otpauth://totp/Arbor%20Console:dev@arbor.test")
	assert.Contains(t, uri, "secret=SECRET234")
	assert.Contains(t, uri, "issuer=Arbor+Console")
}
