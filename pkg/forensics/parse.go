package forensics

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/mitchellh/mapstructure"
)

// Locator expression shapes in guess priority order. The generic selector
// shape comes last so a named shape always wins when both appear.
var locatorShapes = []struct {
	typ string
	re  *regexp.Regexp
}{
	{"role", regexp.MustCompile(`getByRole\((?:[^()]|\([^()]*\))*\)`)},
	{"label", regexp.MustCompile(`getByLabel\((?:[^()]|\([^()]*\))*\)`)},
	{"text", regexp.MustCompile(`getByText\((?:[^()]|\([^()]*\))*\)`)},
	{"placeholder", regexp.MustCompile(`getByPlaceholder\((?:[^()]|\([^()]*\))*\)`)},
	{"", regexp.MustCompile(`locator\((?:[^()]|\([^()]*\))*\)`)},
}

var (
	waitingForRe = regexp.MustCompile(`waiting for (.+)`)

	pageQualifiedRe = regexp.MustCompile(
		`page\.(?:getByRole|getByLabel|getByText|getByPlaceholder|locator)\((?:[^()]|\([^()]*\))*\)`)

	stackLocationRe = regexp.MustCompile(`at .*?\(?([^()\s]+):(\d+):(\d+)\)?`)

	assertionCallRe = regexp.MustCompile(`expect\(([^)]*)\)\s*\.\s*(to[A-Za-z]+)\((.*?)\)`)

	expectedLineRe = regexp.MustCompile(`(?m)^\s*Expected(?: string| value| pattern)?:\s*(.+)$`)
	receivedLineRe = regexp.MustCompile(`(?m)^\s*Received(?: string| value)?:\s*(.+)$`)
)

// CleanText strips terminal color-escape sequences from engine output.
func CleanText(s string) string {
	return stripansi.Strip(s)
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n]) + "..."
}

// ParseStackLocation recovers a source position from a generic
// "at ... (file:line:col)" stack frame. Returns nil when no frame matches.
func ParseStackLocation(stack string) *Location {
	m := stackLocationRe.FindStringSubmatch(stack)
	if m == nil {
		return nil
	}

	line, _ := strconv.Atoi(m[2])
	col, _ := strconv.Atoi(m[3])

	return &Location{File: m[1], Line: line, Column: col}
}

// GuessLocator recovers at most one locator expression from the error text.
// Priority: the expression named by an explicit "waiting for ..." phrase,
// then a bare appearance in the message, then a page-qualified appearance
// anywhere in message or stack.
func GuessLocator(message, stack string) *FailedLocator {
	if m := waitingForRe.FindStringSubmatch(message); m != nil {
		if fl := matchLocatorShape(m[1]); fl != nil {
			return fl
		}
	}

	if fl := matchLocatorShape(message); fl != nil {
		return fl
	}

	if expr := pageQualifiedRe.FindString(message + "\n" + stack); expr != "" {
		return classifyExpr(expr)
	}

	return nil
}

// classifyExpr assigns the type for an expression whose shape was not
// pinned by the matching regex.
func classifyExpr(expr string) *FailedLocator {
	switch {
	case strings.Contains(expr, "getByRole("):
		return buildLocator("role", expr)
	case strings.Contains(expr, "getByLabel("):
		return buildLocator("label", expr)
	case strings.Contains(expr, "getByText("):
		return buildLocator("text", expr)
	case strings.Contains(expr, "getByPlaceholder("):
		return buildLocator("placeholder", expr)
	default:
		return classifyLocator(expr)
	}
}

func matchLocatorShape(text string) *FailedLocator {
	for _, shape := range locatorShapes {
		expr := shape.re.FindString(text)
		if expr == "" {
			continue
		}

		if shape.typ != "" {
			return buildLocator(shape.typ, expr)
		}

		return classifyLocator(expr)
	}

	return nil
}

// classifyLocator assigns the fallback type for a generic selector
// expression from its syntactic shape.
func classifyLocator(expr string) *FailedLocator {
	switch {
	case strings.Contains(expr, "//") || strings.Contains(expr, "xpath="):
		return buildLocator("xpath", expr)
	case strings.Contains(expr, "data-sap-ui") || strings.Contains(expr, "sap.m."):
		return buildLocator("ui5", expr)
	case strings.Contains(expr, "data-testid"):
		return buildLocator("testid", expr)
	default:
		return buildLocator("css", expr)
	}
}

func buildLocator(typ, expr string) *FailedLocator {
	return &FailedLocator{
		Locator:    expr,
		Type:       typ,
		LocatorKey: LocatorKey(typ, expr),
	}
}

// LocatorKey canonicalizes a locator expression into its registry key:
// whitespace removed, page-qualified, prefixed by the locator type.
func LocatorKey(typ, expr string) string {
	key := strings.ReplaceAll(expr, " ", "")
	if !strings.HasPrefix(key, "page.") {
		key = "page." + key
	}

	return typ + ":" + key
}

// GuessAssertion recovers at most one assertion failure from the error text.
// Expected/actual come from adjoining "Expected:"/"Received:" lines when
// present, else from the assertion call's own literal argument.
func GuessAssertion(message, stack string) *AssertionFailure {
	text := message + "\n" + stack

	m := assertionCallRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	failure := &AssertionFailure{
		AssertionType: m[2],
		Target:        strings.TrimSpace(m[1]),
	}

	if em := expectedLineRe.FindStringSubmatch(message); em != nil {
		failure.Expected = unquote(em[1])
	} else {
		failure.Expected = unquote(m[3])
	}

	if rm := receivedLineRe.FindStringSubmatch(message); rm != nil {
		failure.Actual = unquote(rm[1])
	}

	return failure
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"'`)
}

// DecodeOutcome leniently decodes the engine's per-test result JSON. Field
// types vary across engine versions, so numbers-as-strings and similar
// mismatches are tolerated.
func DecodeOutcome(data []byte) (*TestOutcome, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing test result: %w", err)
	}

	var outcome TestOutcome

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &outcome,
	})
	if err != nil {
		return nil, fmt.Errorf("building result decoder: %w", err)
	}

	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decoding test result: %w", err)
	}

	return &outcome, nil
}
