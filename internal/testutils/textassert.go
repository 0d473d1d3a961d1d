package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
	"github.com/mcuadros/go-defaults"
)

// TextAssertOptions tune how strictly two text blocks are compared.
type TextAssertOptions struct {
	TrimSpace    bool `default:"true"`
	EnableColors bool `default:"false"`
}

// TextAsserter compares multi-line text and reports unified diffs.
type TextAsserter struct {
	t       *testing.T
	options TextAssertOptions
}

// NewTextAsserter creates a TextAsserter with default options.
func NewTextAsserter(t *testing.T) *TextAsserter {
	opts := TextAssertOptions{}
	defaults.SetDefaults(&opts)
	return &TextAsserter{t: t, options: opts}
}

// WithOptions replaces the comparison options.
func (ta *TextAsserter) WithOptions(opts TextAssertOptions) *TextAsserter {
	ta.options = opts
	return ta
}

// Assert fails the test when actual differs from expected.
func (ta *TextAsserter) Assert(actual, expected string) {
	ta.t.Helper()

	if ta.options.TrimSpace {
		actual = strings.TrimSpace(actual)
		expected = strings.TrimSpace(expected)
	}
	if actual == expected {
		return
	}

	edits := myers.ComputeEdits(span.URIFromPath("expected"), expected, actual)
	diff := gotextdiff.ToUnified("expected", "actual", expected, edits)
	text := formatDiff(diff, ta.options.EnableColors)
	ta.t.Errorf("text assertion failed:\n%s", text)
}

func formatDiff(diff gotextdiff.Unified, colors bool) string {
	text := fmt.Sprint(diff)
	if !colors {
		return text
	}

	var b strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			b.WriteString(color.GreenString("%s", line))
		case strings.HasPrefix(line, "-"):
			b.WriteString(color.RedString("%s", line))
		default:
			b.WriteString(line)
		}
	}
	return b.String()
}
