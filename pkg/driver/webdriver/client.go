// Package webdriver implements core.Surface over the W3C WebDriver protocol
// (chromedriver, geckodriver, Selenium Grid).
package webdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// W3C WebDriver element identifier key (standard constant)
const w3cElementKey = "element-6066-11e4-a52e-4f735466cecf"

// Error is a WebDriver error response.
type Error struct {
	Status  int
	Code    string // e.g. "no such element"
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNoSuchElement reports whether err means the element is gone or absent.
func IsNoSuchElement(err error) bool {
	var we *Error
	if !errors.As(err, &we) {
		return false
	}
	return we.Code == "no such element" || we.Code == "stale element reference"
}

// Client handles HTTP communication with a WebDriver server.
type Client struct {
	serverURL string
	sessionID string
	client    *http.Client
}

// NewClient creates a new WebDriver client.
func NewClient(serverURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		client:    &http.Client{Timeout: timeout},
	}
}

// Connect creates a new session with the given capabilities.
func (c *Client) Connect(ctx context.Context, capabilities map[string]interface{}) error {
	body := map[string]interface{}{
		"capabilities": map[string]interface{}{
			"alwaysMatch": capabilities,
		},
	}

	var value struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.do(ctx, http.MethodPost, "/session", body, &value); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if value.SessionID == "" {
		return fmt.Errorf("no session ID in response")
	}
	c.sessionID = value.SessionID
	return nil
}

// Disconnect closes the session.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.sessionID == "" {
		return nil
	}
	err := c.do(ctx, http.MethodDelete, c.sessionPath(), nil, nil)
	c.sessionID = ""
	return err
}

// SessionID returns the current session id.
func (c *Client) SessionID() string { return c.sessionID }

// FindElements finds all elements matching strategy ("css selector",
// "xpath") and value.
func (c *Client) FindElements(ctx context.Context, strategy, value string) ([]string, error) {
	body := map[string]interface{}{
		"using": strategy,
		"value": value,
	}
	var values []map[string]interface{}
	if err := c.do(ctx, http.MethodPost, c.sessionPath()+"/elements", body, &values); err != nil {
		return nil, err
	}
	var ids []string
	for _, v := range values {
		if id := extractElementID(v); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ElementRect returns the element rectangle relative to the document.
func (c *Client) ElementRect(ctx context.Context, id string) (x, y, w, h float64, err error) {
	var r struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if err := c.do(ctx, http.MethodGet, c.elementPath(id)+"/rect", nil, &r); err != nil {
		return 0, 0, 0, 0, err
	}
	return r.X, r.Y, r.Width, r.Height, nil
}

// ElementTag returns the element tag name.
func (c *Client) ElementTag(ctx context.Context, id string) (string, error) {
	var s string
	err := c.do(ctx, http.MethodGet, c.elementPath(id)+"/name", nil, &s)
	return strings.ToLower(s), err
}

// ElementText returns the rendered text.
func (c *Client) ElementText(ctx context.Context, id string) (string, error) {
	var s string
	err := c.do(ctx, http.MethodGet, c.elementPath(id)+"/text", nil, &s)
	return s, err
}

// IsElementDisplayed checks if an element is displayed.
func (c *Client) IsElementDisplayed(ctx context.Context, id string) (bool, error) {
	var b bool
	err := c.do(ctx, http.MethodGet, c.elementPath(id)+"/displayed", nil, &b)
	return b, err
}

// IsElementEnabled checks if an element is enabled.
func (c *Client) IsElementEnabled(ctx context.Context, id string) (bool, error) {
	var b bool
	err := c.do(ctx, http.MethodGet, c.elementPath(id)+"/enabled", nil, &b)
	return b, err
}

// ClearElement empties an editable element.
func (c *Client) ClearElement(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, c.elementPath(id)+"/clear", map[string]interface{}{}, nil)
}

// SendKeys types text into an element. For file inputs text is a path.
func (c *Client) SendKeys(ctx context.Context, id, text string) error {
	return c.do(ctx, http.MethodPost, c.elementPath(id)+"/value", map[string]interface{}{"text": text}, nil)
}

// PerformPointer runs a single mouse action sequence.
func (c *Client) PerformPointer(ctx context.Context, actions []map[string]interface{}) error {
	payload := []map[string]interface{}{
		{
			"type":       "pointer",
			"id":         "mouse",
			"parameters": map[string]interface{}{"pointerType": "mouse"},
			"actions":    actions,
		},
	}
	return c.do(ctx, http.MethodPost, c.sessionPath()+"/actions", map[string]interface{}{"actions": payload}, nil)
}

// OpenURL navigates the current window.
func (c *Client) OpenURL(ctx context.Context, url string) error {
	return c.do(ctx, http.MethodPost, c.sessionPath()+"/url", map[string]interface{}{"url": url}, nil)
}

// ExecuteScript runs a synchronous script and decodes its result into out.
func (c *Client) ExecuteScript(ctx context.Context, script string, args []interface{}, out interface{}) error {
	if args == nil {
		args = []interface{}{}
	}
	return c.do(ctx, http.MethodPost, c.sessionPath()+"/execute/sync",
		map[string]interface{}{"script": script, "args": args}, out)
}

// HTTP Helpers

func (c *Client) sessionPath() string {
	return "/session/" + c.sessionID
}

func (c *Client) elementPath(elementID string) string {
	return c.sessionPath() + "/element/" + elementID
}

// do sends a request and decodes the "value" member of the response into
// out. WebDriver errors come back as *Error.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var envelope struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to parse response (HTTP %d): %w", resp.StatusCode, err)
	}

	// Check for WebDriver error
	if resp.StatusCode >= 400 {
		var we struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(envelope.Value, &we)
		if we.Error == "" {
			we.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Code: we.Error, Message: we.Message}
	}

	if out == nil || len(envelope.Value) == 0 || string(envelope.Value) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Value, out); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", method, path, err)
	}
	return nil
}

func extractElementID(value map[string]interface{}) string {
	// W3C format
	if id, ok := value[w3cElementKey].(string); ok {
		return id
	}
	// Legacy format
	if id, ok := value["ELEMENT"].(string); ok {
		return id
	}
	return ""
}
