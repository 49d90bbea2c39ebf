package navigate

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Page is the evaluation environment a success rule sees. Rules call
// its methods rather than string builtins so expressions stay short
// and case-insensitive.
type Page struct {
	URL     string
	Content string
}

// URLContains reports whether the current URL contains s, ignoring case.
func (p Page) URLContains(s string) bool {
	return strings.Contains(strings.ToLower(p.URL), strings.ToLower(s))
}

// ContentContains reports whether the page content contains s, ignoring
// case.
func (p Page) ContentContains(s string) bool {
	return strings.Contains(strings.ToLower(p.Content), strings.ToLower(s))
}

// DefaultSuccessExpr encodes the sign-in success heuristic: the browser
// landed on an account surface, or finished the OAuth2 handshake without
// an error page.
const DefaultSuccessExpr = `URLContains("myaccount.microsoft.com")` +
	` or URLContains("account.microsoft.com")` +
	` or URLContains("office.com")` +
	` or (URLContains("login.microsoftonline.com/common/oauth2")` +
	` and not ContentContains("error") and not ContentContains("try again"))`

// SuccessRule is a compiled boolean expression over the page state.
// The heuristic is configuration, not code: callers may supply their
// own expression for providers with different landing pages.
type SuccessRule struct {
	source  string
	program *vm.Program
}

// CompileRule compiles source into a success rule. Invalid expressions
// and expressions that do not yield a boolean are rejected here, never
// at evaluation time.
func CompileRule(source string) (*SuccessRule, error) {
	program, err := expr.Compile(source, expr.Env(Page{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compiling success rule: %w", err)
	}
	return &SuccessRule{source: source, program: program}, nil
}

// DefaultRule returns the compiled default heuristic.
func DefaultRule() *SuccessRule {
	rule, err := CompileRule(DefaultSuccessExpr)
	if err != nil {
		panic(fmt.Sprintf("default success rule does not compile: %v", err))
	}
	return rule
}

// Source returns the rule's expression text.
func (r *SuccessRule) Source() string {
	return r.source
}

// Evaluate runs the rule against the given page state.
func (r *SuccessRule) Evaluate(url, content string) (bool, error) {
	out, err := expr.Run(r.program, Page{URL: url, Content: content})
	if err != nil {
		return false, fmt.Errorf("evaluating success rule: %w", err)
	}
	return out.(bool), nil
}
