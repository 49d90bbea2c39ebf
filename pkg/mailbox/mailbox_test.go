package mailbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		want    string
		wantHit bool
	}{
		{
			name:    "code in subject",
			msg:     Message{Subject: "Your verification code is 123456"},
			want:    "123456",
			wantHit: true,
		},
		{
			name: "code in body",
			msg: Message{
				Subject: "Microsoft account security code",
				Body:    "Use this code to verify your identity: 987654\r\nIf you didn't request this, ignore it.",
			},
			want:    "987654",
			wantHit: true,
		},
		{
			name: "subject wins over body",
			msg: Message{
				Subject: "Security code 111222",
				Body:    "Your code is 333444",
			},
			want:    "111222",
			wantHit: true,
		},
		{
			name: "html body",
			msg: Message{
				Subject: "Verify your sign-in",
				Body:    `<td style="font-size:24px"><b>445566</b></td>`,
			},
			want:    "445566",
			wantHit: true,
		},
		{
			name:    "longer digit runs do not match",
			msg:     Message{Subject: "Order 1234567 shipped", Body: "Call 5551234567"},
			wantHit: false,
		},
		{
			name:    "shorter digit runs do not match",
			msg:     Message{Body: "Expires in 12345 seconds"},
			wantHit: false,
		},
		{
			name:    "no digits",
			msg:     Message{Subject: "Welcome", Body: "Hello there"},
			wantHit: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := ExtractCode(tt.msg)
			assert.Equal(t, tt.wantHit, ok)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestLatestCodePrefersNewest(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	msgs := []Message{
		{Subject: "Your code is 111111", Date: base},
		{Subject: "Your code is 222222", Date: base.Add(2 * time.Minute)},
		{Subject: "Your code is 333333", Date: base.Add(time.Minute)},
	}

	code, ok := LatestCode(msgs)
	assert.True(t, ok)
	assert.Equal(t, "222222", code)
}

func TestLatestCodeSkipsCodelessMail(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	msgs := []Message{
		{Subject: "Your code is 654321", Date: base},
		{Subject: "New sign-in detected", Date: base.Add(time.Minute)},
	}

	code, ok := LatestCode(msgs)
	assert.True(t, ok)
	assert.Equal(t, "654321", code)
}

func TestLatestCodeEmpty(t *testing.T) {
	_, ok := LatestCode(nil)
	assert.False(t, ok)

	_, ok = LatestCode([]Message{{Subject: "No code here"}})
	assert.False(t, ok)
}

func TestLooksLikeVerification(t *testing.T) {
	assert.True(t, looksLikeVerification("Your verification code"))
	assert.True(t, looksLikeVerification("Microsoft account SECURITY info"))
	assert.True(t, looksLikeVerification("Verify your sign-in"))
	assert.False(t, looksLikeVerification("Weekly newsletter"))
}
