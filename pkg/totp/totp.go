// Package totp derives time-based one-time codes from a shared secret.
//
// The identity provider's server clock and this process's wall clock can
// drift, and the provider accepts codes from a window wider than one
// 30-second step. Generating a small ordered set of candidate codes around
// "now" and submitting the current-time code first maximizes acceptance
// probability without guessing the secret.
package totp

import (
	"sort"
	"time"

	"github.com/pquerna/otp"
	totplib "github.com/pquerna/otp/totp"

	"github.com/parkbot/authflow/pkg/autherr"
)

// Period is the standard TOTP time step.
const Period = 30 * time.Second

// DefaultOffsets is the default candidate window: ±90 seconds around now
// in 30-second increments.
var DefaultOffsets = []int{-90, -60, -30, 0, 30, 60, 90}

// Candidate is one time-shifted code. Candidates are ordered by submission
// priority: offset 0 first, then increasing distance from now.
type Candidate struct {
	// Offset is the shift in seconds applied to now.
	Offset int
	// Code is the six-digit one-time code at now+Offset.
	Code string
}

// CodesForWindow computes the standard 30-second-step HMAC-SHA1 code for
// each offset, as if the current time were now+offset. Pure function, no
// I/O. A malformed (non-base32) secret yields a Configuration-classified
// error; generation never fails silently.
func CodesForWindow(secret string, now time.Time, offsets []int) ([]Candidate, error) {
	if len(offsets) == 0 {
		offsets = DefaultOffsets
	}

	ordered := make([]int, len(offsets))
	copy(ordered, offsets)
	sort.SliceStable(ordered, func(i, j int) bool {
		di, dj := abs(ordered[i]), abs(ordered[j])
		if di != dj {
			return di < dj
		}
		// Future codes ahead of past ones at equal distance: the provider
		// is likelier ahead of us than behind.
		return ordered[i] > ordered[j]
	})

	candidates := make([]Candidate, 0, len(ordered))
	for _, offset := range ordered {
		at := now.Add(time.Duration(offset) * time.Second)
		code, err := totplib.GenerateCodeCustom(secret, at, totplib.ValidateOpts{
			Period:    uint(Period / time.Second),
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return nil, autherr.New(autherr.CategoryConfiguration, autherr.SeverityHigh,
				"TOTP secret is not valid base32: %v", err)
		}
		candidates = append(candidates, Candidate{Offset: offset, Code: code})
	}
	return candidates, nil
}

// Current returns the code for now with no offset.
func Current(secret string, now time.Time) (string, error) {
	candidates, err := CodesForWindow(secret, now, []int{0})
	if err != nil {
		return "", err
	}
	return candidates[0].Code, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
