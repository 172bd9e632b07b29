//go:build bdd

// Package steps provides godog step definitions for the event store's
// end-to-end scenarios.
package steps

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TestContext holds state shared across steps within a single scenario.
type TestContext struct {
	BaseURL        string
	LastStatusCode int
	LastJSON       map[string]interface{}
	StoredValues   map[string]interface{}
	client         *http.Client
}

// NewTestContext creates a fresh test context against baseURL.
func NewTestContext(baseURL string) *TestContext {
	return &TestContext{
		BaseURL:      baseURL,
		StoredValues: make(map[string]interface{}),
		client:       &http.Client{Timeout: 5 * time.Second},
	}
}

// Reset clears per-scenario state.
func (tc *TestContext) Reset() {
	tc.LastStatusCode = 0
	tc.LastJSON = nil
	tc.StoredValues = make(map[string]interface{})
}

// resolveVars replaces {{key}} placeholders with values stored by prior steps.
func (tc *TestContext) resolveVars(s string) string {
	for key, val := range tc.StoredValues {
		s = strings.ReplaceAll(s, "{{"+key+"}}", fmt.Sprintf("%v", val))
	}
	return s
}

// DoRequest sends an HTTP request with a raw JSON body string and records
// the status code and decoded JSON response.
func (tc *TestContext) DoRequest(method, path, rawBody string) error {
	path = tc.resolveVars(path)
	rawBody = tc.resolveVars(rawBody)

	var reqBody io.Reader
	if rawBody != "" {
		reqBody = bytes.NewReader([]byte(rawBody))
	}

	req, err := http.NewRequest(method, tc.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	tc.LastStatusCode = resp.StatusCode

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	tc.LastJSON = nil
	if len(data) > 0 {
		var generic interface{}
		if err := json.Unmarshal(data, &generic); err == nil {
			switch v := generic.(type) {
			case map[string]interface{}:
				tc.LastJSON = v
			case []interface{}:
				tc.LastJSON = map[string]interface{}{"_array": v}
			}
		}
	}
	return nil
}

// StatusShouldBe asserts the last response's status code.
func (tc *TestContext) StatusShouldBe(expected int) error {
	if tc.LastStatusCode != expected {
		return fmt.Errorf("expected status %d, got %d", expected, tc.LastStatusCode)
	}
	return nil
}

// JSONFieldEquals asserts a top-level JSON field in the last response body
// equals expected, stringified. Array responses are addressed via "_array".
func (tc *TestContext) JSONFieldEquals(field, expected string) error {
	if tc.LastJSON == nil {
		return fmt.Errorf("no JSON response body recorded")
	}
	val, ok := tc.LastJSON[field]
	if !ok {
		return fmt.Errorf("field %q not present in response", field)
	}
	got := fmt.Sprintf("%v", val)
	if got != expected {
		return fmt.Errorf("field %q: expected %q, got %q", field, expected, got)
	}
	return nil
}

// JSONArrayFieldLength asserts the top-level array field has the given length.
func (tc *TestContext) JSONArrayFieldLength(field string, length int) error {
	if tc.LastJSON == nil {
		return fmt.Errorf("no JSON response body recorded")
	}
	raw, ok := tc.LastJSON[field]
	if !ok {
		return fmt.Errorf("field %q not present in response", field)
	}
	arr, ok := raw.([]interface{})
	if !ok {
		return fmt.Errorf("field %q is not an array", field)
	}
	if len(arr) != length {
		return fmt.Errorf("field %q: expected length %d, got %d", field, length, len(arr))
	}
	return nil
}

// Store saves a value for later {{key}} substitution.
func (tc *TestContext) Store(key string, value interface{}) {
	tc.StoredValues[key] = value
}

// ParseInt is a small convenience wrapper used by numeric step arguments.
func ParseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
