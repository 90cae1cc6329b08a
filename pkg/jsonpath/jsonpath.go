// Package jsonpath evaluates the small JSONPath subset used by response
// body checks ($.a.b, $.a[0].b, $['a']) on top of gjson.
package jsonpath

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Path is a JSONPath expression converted to gjson syntax.
type Path struct {
	raw   string
	gpath string
}

// Compile converts a JSONPath expression once so it can be evaluated on
// every response without re-parsing.
func Compile(path string) (Path, error) {
	if strings.TrimSpace(path) == "" {
		return Path{}, fmt.Errorf("empty JSONPath expression")
	}
	return Path{raw: path, gpath: toGjson(path)}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(path string) Path {
	p, err := Compile(path)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the original expression.
func (p Path) String() string {
	return p.raw
}

// Lookup returns the value at the path as a string. Null values are
// returned as "null".
func (p Path) Lookup(body []byte) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("empty JSON body")
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("body is not valid JSON")
	}

	result := gjson.GetBytes(body, p.gpath)
	if !result.Exists() {
		return "", fmt.Errorf("path not found: %s", p.raw)
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// toGjson converts a JSONPath expression to gjson path format:
// $.users[0].name -> users.0.name
func toGjson(path string) string {
	path = strings.TrimPrefix(strings.TrimSpace(path), "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	// Quoted bracket notation: ['name'] / ["name"]
	for _, q := range []string{"'", "\""} {
		path = strings.ReplaceAll(path, "["+q, ".")
		path = strings.ReplaceAll(path, q+"]", "")
	}

	// Index notation: [n] -> .n
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")

	return strings.TrimPrefix(path, ".")
}
