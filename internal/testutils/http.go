// Package testutils carries the HTTP test helpers used to exercise the
// server's /metrics endpoint, adapted from the teacher's testutils/http.go
// (same helpers, same names) with the deprecated io/ioutil calls replaced
// by their io equivalents.
package testutils

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
)

// FakeResponse builds an *http.Response suitable for feeding into code that
// only reads status and body, without making a real round trip.
func FakeResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

// DumpHttpRequestUnsafe renders req (optionally including its body) for
// test failure messages.
func DumpHttpRequestUnsafe(req *http.Request, body bool) string {
	reqBytes, _ := httputil.DumpRequest(req, body)
	return fmt.Sprintf("%s", reqBytes)
}
