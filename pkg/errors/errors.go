package errors

import "fmt"

// Category classifies failures for retry and reporting decisions.
type Category string

const (
	// CategoryFetch is a transient fetch failure, retried with backoff.
	CategoryFetch Category = "fetch"
	// CategoryFetchExhausted marks a competitor whose retries ran out.
	CategoryFetchExhausted Category = "fetch_exhausted"
	// CategoryDownload is a media download failure. Non-fatal: the ad keeps
	// a null local artifact and the failure is recorded.
	CategoryDownload Category = "download"
	// CategoryReconcile is a malformed raw record. The record is skipped.
	CategoryReconcile Category = "reconcile"
	// CategoryFatal aborts the run, e.g. unreachable storage.
	CategoryFatal Category = "fatal"
)

// Error carries a category alongside the message so the orchestrator can
// route it without string matching.
type Error struct {
	Category Category
	Message  string
	Err      error
	// Capture is the path of a diagnostic artifact saved for this failure,
	// typically a screenshot of the page that refused to load.
	Capture string
	// Retries counts the attempts consumed before the error was surfaced.
	Retries int
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a categorized error.
func New(cat Category, msg string) *Error {
	return &Error{Category: cat, Message: msg}
}

// Wrap categorizes an underlying error.
func Wrap(cat Category, msg string, err error) *Error {
	return &Error{Category: cat, Message: msg, Err: err}
}

// WithCapture attaches the path of a diagnostic artifact to the error.
func (e *Error) WithCapture(path string) *Error {
	e.Capture = path
	return e
}

// IsRetryable reports whether failures of this category should be retried.
// Only plain fetch failures are transient; everything else either escalates
// or is recorded and skipped.
func IsRetryable(cat Category) bool {
	return cat == CategoryFetch
}
