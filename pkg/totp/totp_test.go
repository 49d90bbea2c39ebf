package totp

import (
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp"
	totplib "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkbot/authflow/pkg/autherr"
)

const testSecret = "JBSWY3DPEHPK3PXP"

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// reference computes the standard 30s-step SHA1 code directly.
func reference(t *testing.T, at time.Time) string {
	t.Helper()
	code, err := totplib.GenerateCodeCustom(testSecret, at, totplib.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestCodesForWindow_MatchesStandardAlgorithm(t *testing.T) {
	candidates, err := CodesForWindow(testSecret, fixedNow, []int{-30, 0, 30})
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	byOffset := map[int]string{}
	for _, c := range candidates {
		byOffset[c.Offset] = c.Code
		assert.Len(t, c.Code, 6)
	}

	for _, offset := range []int{-30, 0, 30} {
		expected := reference(t, fixedNow.Add(time.Duration(offset)*time.Second))
		assert.Equal(t, expected, byOffset[offset], "offset %d", offset)
	}

	// Three adjacent steps produce three distinct codes for this secret
	// and instant.
	assert.NotEqual(t, byOffset[-30], byOffset[0])
	assert.NotEqual(t, byOffset[0], byOffset[30])
	assert.NotEqual(t, byOffset[-30], byOffset[30])
}

func TestCodesForWindow_CurrentTimeCodeFirst(t *testing.T) {
	candidates, err := CodesForWindow(testSecret, fixedNow, []int{-90, -60, -30, 0, 30, 60, 90})
	require.NoError(t, err)
	require.Len(t, candidates, 7)

	assert.Equal(t, 0, candidates[0].Offset)
	// Priority decreases with distance from now.
	for i := 1; i < len(candidates); i++ {
		prev, cur := candidates[i-1].Offset, candidates[i].Offset
		assert.GreaterOrEqual(t, absInt(cur), absInt(prev))
	}
}

func TestCodesForWindow_Deterministic(t *testing.T) {
	first, err := CodesForWindow(testSecret, fixedNow, DefaultOffsets)
	require.NoError(t, err)
	second, err := CodesForWindow(testSecret, fixedNow, DefaultOffsets)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCodesForWindow_DefaultOffsets(t *testing.T) {
	candidates, err := CodesForWindow(testSecret, fixedNow, nil)
	require.NoError(t, err)
	assert.Len(t, candidates, len(DefaultOffsets))
}

func TestCodesForWindow_InvalidSecret(t *testing.T) {
	_, err := CodesForWindow("not base32!!!", fixedNow, []int{0})
	require.Error(t, err)

	var ce *autherr.ClassifiedError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, autherr.CategoryConfiguration, ce.Category)
	assert.Equal(t, autherr.SeverityHigh, ce.Severity)
	assert.False(t, autherr.ShouldRetry(ce))
}

func TestCurrent(t *testing.T) {
	code, err := Current(testSecret, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, reference(t, fixedNow), code)
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
