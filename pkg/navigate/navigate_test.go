package navigate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkbot/authflow/pkg/browser"
)

func TestDefaultRuleURLIndicators(t *testing.T) {
	rule := DefaultRule()

	tests := []struct {
		name    string
		url     string
		content string
		want    bool
	}{
		{"account portal", "https://myaccount.microsoft.com/", "", true},
		{"account surface", "https://account.microsoft.com/profile", "", true},
		{"office landing", "https://www.office.com/?auth=2", "", true},
		{"oauth handshake clean", "https://login.microsoftonline.com/common/oauth2/authorize?x=1", "<html>redirecting</html>", true},
		{"oauth handshake with error", "https://login.microsoftonline.com/common/oauth2/authorize", "An error occurred during sign-in", false},
		{"oauth handshake asking to retry", "https://login.microsoftonline.com/common/oauth2/token", "Please try again", false},
		{"still on login page", "https://login.microsoftonline.com/common/login", "", false},
		{"unrelated site", "https://example.com/", "", false},
		{"case insensitive", "https://MyAccount.Microsoft.com/", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rule.Evaluate(tt.url, tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileRuleRejectsInvalidExpressions(t *testing.T) {
	_, err := CompileRule(`URLContains(`)
	assert.Error(t, err)

	// Compiles but does not yield a boolean.
	_, err = CompileRule(`URL`)
	assert.Error(t, err)
}

func TestCompileRuleCustomHeuristic(t *testing.T) {
	rule, err := CompileRule(`URLContains("dashboard") and not ContentContains("sign in")`)
	require.NoError(t, err)

	ok, err := rule.Evaluate("https://example.com/dashboard", "<h1>Welcome</h1>")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rule.Evaluate("https://example.com/dashboard", "Please sign in")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWaitForSuccess(t *testing.T) {
	d := &browser.MockDriver{PageURL: "https://myaccount.microsoft.com/"}

	ok, err := WaitForSuccess(context.Background(), d, DefaultRule(), 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitForSuccessTimesOut(t *testing.T) {
	d := &browser.MockDriver{PageURL: "https://login.microsoftonline.com/common/login"}

	start := time.Now()
	ok, err := WaitForSuccess(context.Background(), d, DefaultRule(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFirstPresentFallsThroughMissingSelectors(t *testing.T) {
	d := &browser.MockDriver{
		MissingSelectors: map[string]bool{`input[type="email"]`: true},
	}

	sel, err := firstPresent(context.Background(), d, DefaultUsernameSelectors, time.Second)
	require.NoError(t, err)
	assert.Equal(t, `input[name="loginfmt"]`, sel)
}

func TestFirstPresentAllMissing(t *testing.T) {
	d := &browser.MockDriver{
		MissingSelectors: map[string]bool{
			`input[name="otc"]`:     true,
			`#idTxtBx_SAOTCC_OTC`:   true,
			`input[type="tel"]`:     true,
		},
	}

	_, err := firstPresent(context.Background(), d, DefaultCodeSelectors, 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no selector appeared")
}

func TestLoginSequence(t *testing.T) {
	d := &browser.MockDriver{}
	nav := NewLoginSequence("https://login.microsoftonline.com/", 45*time.Second)

	err := nav.Navigate(context.Background(), d, "user@example.com", "hunter2hunter2")
	require.NoError(t, err)

	assert.Equal(t, "user@example.com", d.FilledValues[`input[type="email"]`])
	assert.Equal(t, "hunter2hunter2", d.FilledValues[`input[type="password"]`])
	assert.Equal(t, 1, d.CallCount("goto"))
	// Username submit, password submit, stay-signed-in decline.
	assert.Equal(t, 3, d.CallCount("click"))
}

func TestLoginSequenceWithoutInterstitial(t *testing.T) {
	d := &browser.MockDriver{
		MissingSelectors: map[string]bool{`#idBtn_Back`: true},
	}
	nav := NewLoginSequence("https://login.microsoftonline.com/", time.Second)

	err := nav.Navigate(context.Background(), d, "user@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, 2, d.CallCount("click"))
}

func TestLoginSequencePasswordFieldNeverAppears(t *testing.T) {
	d := &browser.MockDriver{
		MissingSelectors: map[string]bool{
			`input[type="password"]`: true,
			`input[name="passwd"]`:   true,
		},
	}
	nav := NewLoginSequence("https://login.microsoftonline.com/", time.Second)

	err := nav.Navigate(context.Background(), d, "user@example.com", "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password field")
}

func TestCodePromptSubmitsCode(t *testing.T) {
	d := &browser.MockDriver{}
	p := NewCodePrompt()

	require.NoError(t, p.WaitForPrompt(context.Background(), d, time.Second))
	require.NoError(t, p.SubmitCode(context.Background(), d, "123456"))

	assert.Equal(t, "123456", d.FilledValues[`input[name="otc"]`])
	assert.Equal(t, 1, d.CallCount("click"))
}

func TestCodePromptMissingField(t *testing.T) {
	d := &browser.MockDriver{
		MissingSelectors: map[string]bool{
			`input[name="otc"]`:   true,
			`#idTxtBx_SAOTCC_OTC`: true,
			`input[type="tel"]`:   true,
		},
	}
	p := NewCodePrompt()

	err := p.WaitForPrompt(context.Background(), d, 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code entry field")
}
