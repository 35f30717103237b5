package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/termcam/host/internal/config"
	"github.com/termcam/host/internal/errors"
	"github.com/termcam/host/internal/server"
)

// apiClient talks to the control API of a running host.
type apiClient struct {
	addr string
	http *http.Client
}

// newAPIClient builds a client for addr. An empty addr uses the config
// file's address, falling back to the default.
func newAPIClient(addr, configPath string) (*apiClient, error) {
	if addr == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Normalize(); err != nil {
			return nil, err
		}
		addr = cfg.Addr
	}
	return &apiClient{
		addr: addr,
		// Create waits for the first start attempt, which is bounded by
		// the ready timeout plus provisioning.
		http: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// apiError is a non-2xx answer carrying the host's error code.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("host returned %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// nextAction returns the remediation hint for the error code, if any.
func (e *apiError) nextAction() string {
	return errors.GetNextAction(e.Code)
}

// defaultHTTPClient is used for quick probes such as /status.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 2 * time.Second}
}

func (c *apiClient) url(path string) string {
	return "http://" + c.addr + path
}

// do sends a request and decodes a 2xx JSON body into out (nil to discard).
func (c *apiClient) do(method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.url(path), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("host is not running at %s (or not reachable): %w", c.addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode}
		var eb server.ErrorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err == nil {
			apiErr.Code = eb.Error.Code
			apiErr.Message = eb.Error.Message
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *apiClient) status() (*server.StatusResponse, error) {
	var st server.StatusResponse
	if err := c.do(http.MethodGet, "/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// printError writes err and, for coded host errors, the next action.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if apiErr, ok := err.(*apiError); ok {
		if hint := apiErr.nextAction(); hint != "" {
			fmt.Fprintf(w, "  -> %s\n", hint)
		}
	}
}
