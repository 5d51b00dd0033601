// Package upstream is the adapter boundary to the webinar provider API:
// paginated list endpoints, report endpoints, bearer auth, and normalization
// of loosely-shaped payloads into typed records.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/sync-engine/internal/models"
)

// TokenProvider supplies a valid bearer credential for a connection.
// Token refresh is an external collaborator's concern.
type TokenProvider interface {
	Token(ctx context.Context, conn *models.Connection) (string, error)
}

// StaticTokenProvider returns a fixed token, for development and tests.
type StaticTokenProvider struct {
	Value string
}

// Token implements TokenProvider.
func (p StaticTokenProvider) Token(_ context.Context, _ *models.Connection) (string, error) {
	if p.Value == "" {
		return "", fmt.Errorf("no upstream token configured")
	}
	return p.Value, nil
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Message)
}

// Client calls the provider's webinar and report endpoints.
type Client struct {
	baseURL  string
	http     *http.Client
	tokens   TokenProvider
	pageSize int
	logger   *zap.Logger
}

// NewClient creates an upstream API client.
func NewClient(baseURL string, tokens TokenProvider, pageSize, timeoutSec int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 300
	}
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		tokens:   tokens,
		pageSize: pageSize,
		logger:   logger,
	}
}

// ListWebinars fetches one page of webinars for a (category, date-range) query.
// Category is the provider's list filter, e.g. "past" or "upcoming"; the
// provider does not reliably support an "all" category.
func (c *Client) ListWebinars(ctx context.Context, conn *models.Connection, category string, from, to time.Time, page int) (*WebinarPage, error) {
	params := url.Values{}
	params.Set("type", category)
	params.Set("from", from.UTC().Format("2006-01-02"))
	params.Set("to", to.UTC().Format("2006-01-02"))
	params.Set("page_size", strconv.Itoa(c.pageSize))
	params.Set("page_number", strconv.Itoa(page))

	var envelope struct {
		PageCount    int              `json:"page_count"`
		PageNumber   int              `json:"page_number"`
		TotalRecords int              `json:"total_records"`
		Webinars     []webinarPayload `json:"webinars"`
	}
	if err := c.get(ctx, conn, "/users/"+url.PathEscape(conn.AccountID)+"/webinars", params, &envelope); err != nil {
		return nil, err
	}

	out := &WebinarPage{
		PageCount:    envelope.PageCount,
		PageNumber:   envelope.PageNumber,
		TotalRecords: envelope.TotalRecords,
		Webinars:     make([]WebinarSummary, 0, len(envelope.Webinars)),
	}
	for _, p := range envelope.Webinars {
		w := p.normalize()
		if w.ExternalID == "" {
			c.logger.Warn("skipping webinar without any id", zap.String("topic", w.Topic))
			continue
		}
		out.Webinars = append(out.Webinars, w)
	}
	return out, nil
}

// GetWebinar fetches the detail record for one webinar.
func (c *Client) GetWebinar(ctx context.Context, conn *models.Connection, externalID string) (*WebinarSummary, error) {
	var payload webinarPayload
	if err := c.get(ctx, conn, "/webinars/"+url.PathEscape(externalID), nil, &payload); err != nil {
		return nil, err
	}
	w := payload.normalize()
	if w.ExternalID == "" {
		w.ExternalID = externalID
	}
	return &w, nil
}

// ListParticipants fetches one page of the attendance report for a webinar.
func (c *Client) ListParticipants(ctx context.Context, conn *models.Connection, externalID string, page int) (*ParticipantPage, error) {
	params := url.Values{}
	params.Set("page_size", strconv.Itoa(c.pageSize))
	params.Set("page_number", strconv.Itoa(page))

	var envelope struct {
		PageCount    int                  `json:"page_count"`
		TotalRecords int                  `json:"total_records"`
		Participants []participantPayload `json:"participants"`
	}
	if err := c.get(ctx, conn, "/report/webinars/"+url.PathEscape(externalID)+"/participants", params, &envelope); err != nil {
		return nil, err
	}

	out := &ParticipantPage{PageCount: envelope.PageCount, TotalRecords: envelope.TotalRecords}
	for _, p := range envelope.Participants {
		out.Participants = append(out.Participants, p.normalize())
	}
	return out, nil
}

// ListRegistrants fetches one page of the registrants report for a webinar.
func (c *Client) ListRegistrants(ctx context.Context, conn *models.Connection, externalID string, page int) (*RegistrantPage, error) {
	params := url.Values{}
	params.Set("page_size", strconv.Itoa(c.pageSize))
	params.Set("page_number", strconv.Itoa(page))

	var envelope struct {
		PageCount   int                 `json:"page_count"`
		Registrants []registrantPayload `json:"registrants"`
	}
	if err := c.get(ctx, conn, "/webinars/"+url.PathEscape(externalID)+"/registrants", params, &envelope); err != nil {
		return nil, err
	}

	out := &RegistrantPage{PageCount: envelope.PageCount}
	for _, p := range envelope.Registrants {
		out.Registrants = append(out.Registrants, p.normalize())
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, conn *models.Connection, path string, params url.Values, dst interface{}) error {
	token, err := c.tokens.Token(ctx, conn)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := apiErrorMessage(body)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func apiErrorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return e.Message
}
