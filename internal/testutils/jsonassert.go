package testutils

import (
	"encoding/json"
	"testing"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// MustJSON marshals v or panics. Test-only convenience.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// JSONAssertOptions tune how strictly two JSON documents are compared.
type JSONAssertOptions struct {
	// IgnoreExtraKeys drops actual-only keys before diffing, so tests can
	// pin just the fields they care about.
	IgnoreExtraKeys bool     `default:"true"`
	IgnoredFields   []string `default:""`
}

// JSONAsserter compares JSON documents and reports readable diffs.
type JSONAsserter struct {
	t       *testing.T
	options JSONAssertOptions
}

// NewJSONAsserter creates a JSONAsserter with default options.
func NewJSONAsserter(t *testing.T) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

// WithOptions replaces the comparison options.
func (ja *JSONAsserter) WithOptions(opts JSONAssertOptions) *JSONAsserter {
	ja.options = opts
	return ja
}

// Assert fails the test when actualJSON differs from expectedJSON under the
// configured options.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	ja.t.Helper()

	var actual, expected map[string]any
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		ja.t.Fatalf("actual is not valid JSON: %v\n%s", err, actualJSON)
	}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		ja.t.Fatalf("expected is not valid JSON: %v\n%s", err, expectedJSON)
	}

	for _, field := range ja.options.IgnoredFields {
		delete(actual, field)
		delete(expected, field)
	}
	if ja.options.IgnoreExtraKeys {
		for k := range actual {
			if _, ok := expected[k]; !ok {
				delete(actual, k)
			}
		}
	}

	differ := gojsondiff.New()
	diff := differ.CompareObjects(expected, actual)
	if !diff.Modified() {
		return
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	text, err := f.Format(diff)
	if err != nil {
		ja.t.Fatalf("failed to format JSON diff: %v", err)
	}
	ja.t.Errorf("JSON assertion failed:\n%s", text)
}
