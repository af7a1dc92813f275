package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpClient bounds every API call.
var httpClient = &http.Client{Timeout: 10 * time.Second}

// apiError is the error body returned by the node.
type apiError struct {
	Error string `json:"error"`
}

// httpGet performs a GET request and decodes the JSON response.
func httpGet(url string, result any) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("GET %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError("GET", url, resp)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// httpPostJSON performs a POST request with JSON body and decodes the JSON response.
func httpPostJSON(url string, body any, result any) error {
	jsonBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body:\n%w", err)
	}

	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(jsonBytes))
	if err != nil {
		return fmt.Errorf("POST %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return statusError("POST", url, resp)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// statusError builds an error from a non-success response.
func statusError(method, url string, resp *http.Response) error {
	err := &StatusError{Code: resp.StatusCode}

	var body apiError
	if json.NewDecoder(resp.Body).Decode(&body) == nil {
		err.Message = body.Error
	}

	return fmt.Errorf("%s %s:\n%w", method, url, err)
}

// StatusError is a non-success HTTP response.
type StatusError struct {
	Code    int    // Code is the HTTP status code
	Message string // Message is the node's error message, if any
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}
