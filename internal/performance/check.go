package performance

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/katunilya/surge/pkg/jsonpath"
)

// Response is the part of an HTTP response exposed to success checks.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Check decides whether a completed response counts as a success.
type Check interface {
	Check(resp *Response) error
}

// StatusError is returned by StatusCheck for an unexpected status code.
type StatusError struct {
	Got     int
	Allowed []int
}

func (e *StatusError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, code := range e.Allowed {
		allowed[i] = strconv.Itoa(code)
	}
	return fmt.Sprintf("status %d not in [%s]", e.Got, strings.Join(allowed, ","))
}

// StatusCheck passes when the status code is one of Allowed. An empty
// list means 200 only.
type StatusCheck struct {
	Allowed []int
}

// DefaultCheck is "status == 200".
func DefaultCheck() Check {
	return StatusCheck{Allowed: []int{http.StatusOK}}
}

func (c StatusCheck) Check(resp *Response) error {
	allowed := c.Allowed
	if len(allowed) == 0 {
		allowed = []int{http.StatusOK}
	}
	if slices.Contains(allowed, resp.StatusCode) {
		return nil
	}
	return &StatusError{Got: resp.StatusCode, Allowed: allowed}
}

// JSONPathCheck passes when the value at Path in the JSON body equals
// Equals (compared as strings).
type JSONPathCheck struct {
	Path   jsonpath.Path
	Equals string
}

func (c JSONPathCheck) Check(resp *Response) error {
	got, err := c.Path.Lookup(resp.Body)
	if err != nil {
		return fmt.Errorf("json check %s: %w", c.Path, err)
	}
	if got != c.Equals {
		return fmt.Errorf("json check %s: got %q, want %q", c.Path, got, c.Equals)
	}
	return nil
}

// AllChecks passes when every check passes; the first failure wins.
type AllChecks []Check

func (cs AllChecks) Check(resp *Response) error {
	for _, c := range cs {
		if err := c.Check(resp); err != nil {
			return err
		}
	}
	return nil
}
