package flow

import "fmt"

// PageAheadError reports an attempt to reach a page past the session's
// high-water mark. Adapters redirect to Target with a "cannot jump ahead"
// notice instead of rendering the requested page.
type PageAheadError struct {
	Target int
}

func (e *PageAheadError) Error() string {
	return fmt.Sprintf("cannot jump ahead, next page is %d", e.Target)
}

// AliasError wraps an identity claim failure so adapters can redisplay the
// alias page with a specific message while other entered values are kept.
type AliasError struct {
	Conflict bool
	cause    error
}

func (e *AliasError) Error() string {
	if e.Conflict {
		return "alias already in use by another report"
	}
	return "no previous report found for this alias"
}

func (e *AliasError) Unwrap() error { return e.cause }
