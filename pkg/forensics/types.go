// Package forensics synthesizes structured failure artifacts from the
// execution engine's per-test results. The parsing heuristics are pure
// functions over the raw error text so they can be exercised against fixture
// tables without any process orchestration.
package forensics

// Location is a source position within a spec file.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// ErrorDetail is the cleaned error captured from a failed test.
type ErrorDetail struct {
	Message  string    `json:"message"`
	Stack    string    `json:"stack,omitempty"`
	Location *Location `json:"location,omitempty"`
}

// FailedLocator is the best-effort single locator guess recovered from the
// error text. Type is the fallback classification of the expression's
// syntactic shape; LocatorKey is the canonical registry key.
type FailedLocator struct {
	Locator    string `json:"locator"`
	Type       string `json:"type"`
	LocatorKey string `json:"locatorKey"`
}

// AssertionFailure is the best-effort single assertion guess recovered from
// the error text.
type AssertionFailure struct {
	AssertionType string `json:"assertionType"`
	Target        string `json:"target"`
	Expected      string `json:"expected,omitempty"`
	Actual        string `json:"actual,omitempty"`
}

// Artifact is the structured record of why one test failed. It is written
// once per failed test identity and overwritten on re-run; the run index is
// the historical record, not this file.
type Artifact struct {
	TestName         string            `json:"testName"`
	FullTitle        string            `json:"fullTitle"`
	Status           string            `json:"status"`
	Error            ErrorDetail       `json:"error"`
	Duration         float64           `json:"duration"`
	RetryCount       int               `json:"retryCount"`
	Timestamp        string            `json:"timestamp"`
	Screenshot       string            `json:"screenshot,omitempty"`
	Trace            string            `json:"trace,omitempty"`
	FailedLocator    *FailedLocator    `json:"failedLocator,omitempty"`
	AssertionFailure *AssertionFailure `json:"assertionFailure,omitempty"`
}

// TestOutcome is the engine's per-test result as handed to the reporter
// hook. Field shapes vary across engine versions, so it is decoded leniently.
type TestOutcome struct {
	Title       string              `json:"title" mapstructure:"title"`
	FullTitle   string              `json:"fullTitle" mapstructure:"fullTitle"`
	Status      string              `json:"status" mapstructure:"status"`
	Duration    float64             `json:"duration" mapstructure:"duration"`
	Retry       int                 `json:"retry" mapstructure:"retry"`
	File        string              `json:"file" mapstructure:"file"`
	Line        int                 `json:"line" mapstructure:"line"`
	Column      int                 `json:"column" mapstructure:"column"`
	Message     string              `json:"message" mapstructure:"message"`
	Stack       string              `json:"stack" mapstructure:"stack"`
	Attachments []OutcomeAttachment `json:"attachments" mapstructure:"attachments"`
}

// OutcomeAttachment is a file the engine attached to a test result.
type OutcomeAttachment struct {
	Name string `json:"name" mapstructure:"name"`
	Path string `json:"path" mapstructure:"path"`
}

// Failed reports whether the outcome should produce an artifact.
func (o *TestOutcome) Failed() bool {
	return o.Status == "failed" || o.Status == "timedOut"
}
