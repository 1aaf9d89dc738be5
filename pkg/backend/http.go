package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/logger"
)

// HTTPClient talks to the job backend's /api/bot endpoints.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	log     *logrus.Entry

	// ReportRetries is how often a failed report is re-sent.
	ReportRetries uint64
	// ReportBackoff is the first delay between report attempts.
	ReportBackoff time.Duration
}

// NewHTTPClient creates a client for baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          &http.Client{Timeout: timeout},
		log:           logger.WithComponent("backend"),
		ReportRetries: 3,
		ReportBackoff: 500 * time.Millisecond,
	}
}

// statusError is a non-2xx response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// detail returns the "detail" member of a JSON error body, or the raw body.
func (e *statusError) detail() string {
	var v struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal([]byte(e.Body), &v) == nil && v.Detail != "" {
		return v.Detail
	}
	return e.Body
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return core.ErrTransport.WithMessagef("%s %s", method, path).WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return core.ErrTransport.WithMessagef("%s %s", method, path).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.ErrTransport.WithMessagef("%s %s: read body", method, path).WithCause(err)
	}
	c.log.Debugf("%s %s -> %d (%s)", method, path, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return core.ErrTransport.WithMessagef("%s %s", method, path).
			WithCause(&statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))})
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return core.ErrTransport.WithMessagef("%s %s: invalid response", method, path).WithCause(err)
		}
	}
	return nil
}

func httpStatus(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// noWorkAvailable reports whether err is the 404 the backend sends when it
// has no clips left. Other 404s (an unknown client code) are real errors.
func noWorkAvailable(err error) bool {
	var se *statusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		return false
	}
	return strings.Contains(strings.ToLower(se.detail()), "no available")
}

// HealthCheck posts a heartbeat for identity, or probes /health when the
// identity is empty.
func (c *HTTPClient) HealthCheck(ctx context.Context, identity string) (Health, error) {
	var resp struct {
		Status string `json:"status"`
	}
	var err error
	if identity == "" {
		err = c.do(ctx, http.MethodGet, "/health", nil, &resp)
	} else {
		err = c.do(ctx, http.MethodPost, "/api/bot/heartbeat", map[string]string{"client_code": identity}, &resp)
	}
	if err != nil {
		return Health{Detail: err.Error()}, err
	}
	return Health{OK: resp.Status == "" || resp.Status == "ok" || resp.Status == "healthy", Detail: resp.Status}, nil
}

// jobID accepts numeric or string ids.
type jobID string

func (j *jobID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*j = jobID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("job_id: %w", err)
	}
	*j = jobID(n.String())
	return nil
}

type orderItem struct {
	JobID          jobID                  `json:"job_id"`
	MediaHash      string                 `json:"media_hash"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description"`
	Tags           []string               `json:"tags"`
	AffiliateURL   string                 `json:"affiliate_url"`
	AffiliateLabel string                 `json:"affiliate_label"`
	PlatformConfig map[string]interface{} `json:"platform_config"`
}

func (o orderItem) workItem() core.WorkItem {
	item := core.WorkItem{
		Code:        string(o.JobID),
		MediaRef:    o.MediaHash,
		Title:       o.Title,
		Description: o.Description,
		Tags:        o.Tags,
	}
	if o.AffiliateURL != "" {
		item.Options.CrossPromotion = []core.CrossReference{{URL: o.AffiliateURL, Label: o.AffiliateLabel}}
	}
	for k, v := range o.PlatformConfig {
		s := fmt.Sprint(v)
		switch k {
		case "visibility", "privacy":
			item.Options.Visibility = s
		case "scheduled_at", "schedule":
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				item.Options.ScheduledAt = &t
			}
		default:
			if item.Options.Extra == nil {
				item.Options.Extra = make(map[string]string)
			}
			item.Options.Extra[k] = s
		}
	}
	return item
}

// FetchPendingWork creates an order of up to limit items. A "no available
// clips" 404 is an empty result; a 404 for an unknown client is
// ErrInvalidConfig.
func (c *HTTPClient) FetchPendingWork(ctx context.Context, identity string, limit int) ([]core.WorkItem, error) {
	var resp struct {
		OrderID  json.Number `json:"order_id"`
		Platform string      `json:"platform"`
		Items    []orderItem `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, "/api/bot/create-order", map[string]interface{}{
		"client_code": identity,
		"quantity":    limit,
	}, &resp)
	if noWorkAvailable(err) {
		return []core.WorkItem{}, nil
	}
	if httpStatus(err) == http.StatusNotFound {
		return nil, core.ErrInvalidConfig.WithMessagef("backend rejected client %q", identity).WithCause(err)
	}
	if err != nil {
		return nil, err
	}

	items := make([]core.WorkItem, 0, len(resp.Items))
	for _, o := range resp.Items {
		items = append(items, o.workItem())
	}
	c.log.Infof("order %s: %d items for %s", resp.OrderID, len(items), resp.Platform)
	return items, nil
}

// FetchMediaPayload downloads and decodes the media of an item. code is the
// media reference (hash) of the item.
func (c *HTTPClient) FetchMediaPayload(ctx context.Context, code string) (*core.MediaFile, error) {
	var resp struct {
		Filename  string `json:"filename"`
		MimeType  string `json:"mime_type"`
		SizeBytes int    `json:"size_bytes"`
		Base64    string `json:"base64"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/bot/video/"+url.PathEscape(code), nil, &resp); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(resp.Base64)
	if err != nil {
		return nil, core.ErrMediaDecode.WithMessagef("media %s", code).WithCause(err)
	}
	if resp.SizeBytes > 0 && len(data) != resp.SizeBytes {
		return nil, core.ErrMediaDecode.WithMessagef("media %s: got %d bytes, expected %d", code, len(data), resp.SizeBytes)
	}
	mime := resp.MimeType
	if mime == "" {
		mime = "video/mp4"
	}
	return &core.MediaFile{Name: resp.Filename, MimeType: mime, Data: data}, nil
}

// ReportOutcome sends the item result, retrying transport failures.
func (c *HTTPClient) ReportOutcome(ctx context.Context, code string, outcome Outcome) (Directive, error) {
	status := "done"
	if outcome.Status != core.ItemSuccess {
		status = "failed"
	}
	req := map[string]interface{}{
		"job_id":      numericOrString(code),
		"status":      status,
		"log_message": outcome.Detail,
	}
	if outcome.ExternalID != "" {
		req["external_id"] = outcome.ExternalID
	}
	if outcome.ExternalURL != "" {
		req["external_url"] = outcome.ExternalURL
	}

	var resp struct {
		ShouldStop  bool   `json:"should_stop"`
		ShouldPause bool   `json:"should_pause"`
		Reason      string `json:"reason"`
	}
	op := func() error {
		err := c.do(ctx, http.MethodPost, "/api/bot/report", req, &resp)
		if code := httpStatus(err); code >= 400 && code < 500 {
			return backoff.Permanent(err)
		}
		if err != nil {
			c.log.WithError(err).Warn("report failed, retrying")
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.ReportBackoff
	b.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.ReportRetries), ctx)); err != nil {
		return Directive{}, err
	}
	return Directive{ShouldStop: resp.ShouldStop, ShouldPause: resp.ShouldPause, Reason: resp.Reason}, nil
}

// ConfirmPublish asks whether the item may still be posted.
func (c *HTTPClient) ConfirmPublish(ctx context.Context, code string) (Confirmation, error) {
	var resp struct {
		CanPost bool   `json:"can_post"`
		Reason  string `json:"reason"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/bot/confirm/"+url.PathEscape(code), nil, &resp); err != nil {
		return Confirmation{}, err
	}
	return Confirmation{CanPost: resp.CanPost, Reason: resp.Reason}, nil
}

// ClearStopSignal clears a pending stop instruction for identity.
func (c *HTTPClient) ClearStopSignal(ctx context.Context, identity string) error {
	return c.do(ctx, http.MethodPost, "/api/bot/clear-stop", map[string]string{"client_code": identity}, nil)
}

// ResetWorkStatus returns one item, or all with ResetAll, to pending.
func (c *HTTPClient) ResetWorkStatus(ctx context.Context, identity, codeOrAll string) error {
	req := map[string]interface{}{"client_code": identity}
	if codeOrAll == ResetAll {
		req["job_id"] = ResetAll
	} else {
		req["job_id"] = numericOrString(codeOrAll)
	}
	return c.do(ctx, http.MethodPost, "/api/bot/reset", req, nil)
}

// numericOrString sends numeric ids as JSON numbers.
func numericOrString(code string) interface{} {
	if n, err := strconv.ParseInt(code, 10, 64); err == nil {
		return n
	}
	return code
}

var _ Client = (*HTTPClient)(nil)
