package backend

import "fmt"

// statusErr carries a non-2xx upstream status and body through the dispatch
// fallback loop.
type statusErr struct {
	code int
	msg  string
}

func (e statusErr) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.code, e.msg)
}

// HTTPStatus implements dispatch.HTTPStatusError.
func (e statusErr) HTTPStatus() int { return e.code }
