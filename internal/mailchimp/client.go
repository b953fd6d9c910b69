package mailchimp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ignite/contact-sync/internal/pkg/httpretry"
	"github.com/ignite/contact-sync/internal/pkg/logger"
)

// Client is the Mailchimp Marketing API v3 client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
	log        *logger.Logger
}

// retryableStatuses leaves 502 out: a bad gateway on a batch call is surfaced
// as ErrTransient so the sync engine decides whether to resend the sub-batch.
var retryableStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// NewClient creates a Mailchimp client. The data centre is taken from
// config.Server, the API key suffix, or looked up through the OAuth metadata
// endpoint, in that order. BaseURL short-circuits all of them.
func NewClient(ctx context.Context, config Config) (*Client, error) {
	if config.AccessToken == "" && config.APIKey == "" {
		return nil, fmt.Errorf("mailchimp: access token or api key is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MetadataURL == "" {
		config.MetadataURL = DefaultMetadataURL
	}

	log := logger.Default().With("component", "mailchimp")

	var base *http.Client
	if config.AccessToken != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.AccessToken, TokenType: "Bearer"})
		base = oauth2.NewClient(ctx, ts)
		base.Timeout = config.Timeout
	} else {
		base = &http.Client{Timeout: config.Timeout}
	}

	c := &Client{
		apiKey: config.APIKey,
		httpClient: httpretry.NewRetryClient(base, config.MaxRetries,
			httpretry.WithRetryableStatuses(retryableStatuses...),
			httpretry.WithLogger(log)),
		log: log,
	}

	switch {
	case config.BaseURL != "":
		c.baseURL = strings.TrimRight(config.BaseURL, "/")
	default:
		dc := config.Server
		if dc == "" && config.APIKey != "" {
			dc = dataCenterFromKey(config.APIKey)
		}
		if dc == "" {
			var err error
			dc, err = ResolveDataCenter(ctx, &http.Client{Timeout: config.Timeout}, config.MetadataURL, config.AccessToken)
			if err != nil {
				return nil, err
			}
		}
		c.baseURL = fmt.Sprintf("https://%s.api.mailchimp.com/3.0", dc)
	}

	return c, nil
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// BaseURL returns the resolved API root.
func (c *Client) BaseURL() string { return c.baseURL }

// ResolveDataCenter asks the OAuth metadata endpoint which data centre the
// token belongs to.
func ResolveDataCenter(ctx context.Context, doer httpretry.HTTPDoer, metadataURL, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create metadata request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)

	resp, err := doer.Do(req)
	if err != nil {
		return "", fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metadata response: %w", err)
	}

	var meta metadataResponse
	_ = json.Unmarshal(body, &meta)
	if meta.Error != "" {
		status := resp.StatusCode
		if status < 400 {
			status = http.StatusUnauthorized
		}
		return "", &APIError{Kind: Classify(status), Status: status, Title: meta.Error, Detail: meta.Description, Body: string(body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", newAPIError(resp.StatusCode, body)
	}
	if meta.DC == "" {
		return "", fmt.Errorf("metadata response has no data centre")
	}
	return meta.DC, nil
}

func dataCenterFromKey(key string) string {
	if i := strings.LastIndex(key, "-"); i >= 0 && i < len(key)-1 {
		return key[i+1:]
	}
	return ""
}

// doRequest performs an authenticated request and decodes a 2xx body into out.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reqBody io.Reader
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.SetBasicAuth("contact-sync", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(resp.StatusCode, respBody)
		c.log.Warn("mailchimp request failed",
			"method", method, "endpoint", endpoint, "status", resp.StatusCode, "kind", apiErr.Kind)
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func collectionQuery() string {
	params := url.Values{}
	params.Set("count", strconv.Itoa(collectionCount))
	return "?" + params.Encode()
}

// ========== Lists ==========

// ListLists returns every audience on the account.
func (c *Client) ListLists(ctx context.Context) ([]List, error) {
	var resp listsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/lists"+collectionQuery(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Lists, nil
}

// ========== Merge Fields ==========

// GetMergeFields returns the list's merge field definitions.
func (c *Client) GetMergeFields(ctx context.Context, listID string) ([]MergeField, error) {
	endpoint := fmt.Sprintf("/lists/%s/merge-fields%s", url.PathEscape(listID), collectionQuery())

	var resp mergeFieldsResponse
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.MergeFields, nil
}

// AddMergeField creates a merge field and returns it with its assigned tag.
func (c *Client) AddMergeField(ctx context.Context, listID string, field MergeField) (MergeField, error) {
	endpoint := fmt.Sprintf("/lists/%s/merge-fields", url.PathEscape(listID))

	var created MergeField
	if err := c.doRequest(ctx, http.MethodPost, endpoint, field, &created); err != nil {
		return MergeField{}, err
	}
	return created, nil
}

// ========== Interests ==========

// ListInterestCategories returns the list's group titles.
func (c *Client) ListInterestCategories(ctx context.Context, listID string) ([]InterestCategory, error) {
	endpoint := fmt.Sprintf("/lists/%s/interest-categories%s", url.PathEscape(listID), collectionQuery())

	var resp categoriesResponse
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Categories, nil
}

// ListInterests returns the group names under a category.
func (c *Client) ListInterests(ctx context.Context, listID, categoryID string) ([]Interest, error) {
	endpoint := fmt.Sprintf("/lists/%s/interest-categories/%s/interests%s",
		url.PathEscape(listID), url.PathEscape(categoryID), collectionQuery())

	var resp interestsResponse
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Interests, nil
}

// CreateInterest adds a group name under a category.
func (c *Client) CreateInterest(ctx context.Context, listID, categoryID, name string) (Interest, error) {
	endpoint := fmt.Sprintf("/lists/%s/interest-categories/%s/interests",
		url.PathEscape(listID), url.PathEscape(categoryID))

	var created Interest
	if err := c.doRequest(ctx, http.MethodPost, endpoint, Interest{Name: name}, &created); err != nil {
		return Interest{}, err
	}
	return created, nil
}

// ========== Members ==========

// BatchUpsertMembers subscribes or updates up to 500 members in one call.
func (c *Client) BatchUpsertMembers(ctx context.Context, listID string, req BatchRequest) (*BatchResponse, error) {
	endpoint := fmt.Sprintf("/lists/%s", url.PathEscape(listID))

	var resp BatchResponse
	if err := c.doRequest(ctx, http.MethodPost, endpoint, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
