package congress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"BillsAnalyzer/internal/config"
	"BillsAnalyzer/internal/domain"
	"BillsAnalyzer/internal/ports"
)

const (
	defaultPageSize = 100
	maxPageSize     = 250
	userAgent       = "BillsAnalyzer/1.0"
	fromDateLayout  = "2006-01-02T15:04:05Z"
)

// Client pages through the Congress.gov v3 bill and amendment listings.
type Client struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	pageSize     int
	fetchDetails bool
	logger       *slog.Logger
}

var _ ports.BillSource = (*Client)(nil)

// NewClient wires an HTTP client; a nil client gets the configured timeout.
func NewClient(cfg config.CongressConfig, client *http.Client, logger *slog.Logger) *Client {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		client:       client,
		pageSize:     pageSize,
		fetchDetails: cfg.FetchDetails,
		logger:       logger.With("component", "congress"),
	}
}

// FetchPage returns one listing page of the feed, oldest update first.
func (c *Client) FetchPage(ctx context.Context, req ports.PageRequest) (ports.Page, error) {
	limit := req.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = c.pageSize
	}

	pageURL, err := c.listURL(req.Feed, req.Since, req.Offset, limit)
	if err != nil {
		return ports.Page{}, domain.NewError(domain.KindPermanentFetch, "congress.FetchPage", err)
	}

	switch req.Feed.Kind {
	case domain.TargetBill:
		return c.fetchBills(ctx, pageURL, req.Offset)
	case domain.TargetAmendment:
		return c.fetchAmendments(ctx, pageURL, req.Offset)
	default:
		return ports.Page{}, domain.NewError(domain.KindPermanentFetch, "congress.FetchPage",
			fmt.Errorf("unknown feed kind %q", req.Feed.Kind))
	}
}

func (c *Client) fetchBills(ctx context.Context, pageURL string, offset int) (ports.Page, error) {
	var resp billListResponse
	if err := c.getJSON(ctx, pageURL, &resp); err != nil {
		return ports.Page{}, err
	}

	page := ports.Page{
		NextOffset: offset + len(resp.Bills),
		HasMore:    resp.Pagination.Next != "" && len(resp.Bills) > 0,
	}
	for _, item := range resp.Bills {
		bill, err := item.toDomain()
		if err != nil {
			c.logger.Warn("skip malformed bill", "err", err)
			continue
		}
		if c.fetchDetails {
			enriched := bill
			switch err := c.enrichBill(ctx, &enriched); {
			case err == nil:
				bill = enriched
			case domain.IsPermanent(err):
				// keep the listing record; a missing detail must not wedge the feed
				c.logger.Warn("bill details unavailable", "bill", bill.Key.String(), "err", err)
			default:
				return ports.Page{}, err
			}
		}
		page.Bills = append(page.Bills, bill)
	}
	return page, nil
}

func (c *Client) fetchAmendments(ctx context.Context, pageURL string, offset int) (ports.Page, error) {
	var resp amendmentListResponse
	if err := c.getJSON(ctx, pageURL, &resp); err != nil {
		return ports.Page{}, err
	}

	page := ports.Page{
		NextOffset: offset + len(resp.Amendments),
		HasMore:    resp.Pagination.Next != "" && len(resp.Amendments) > 0,
	}
	for _, item := range resp.Amendments {
		amendment, err := item.toDomain()
		if err != nil {
			c.logger.Warn("skip malformed amendment", "err", err)
			continue
		}
		if c.fetchDetails {
			enriched := amendment
			switch err := c.enrichAmendment(ctx, &enriched); {
			case err == nil:
				amendment = enriched
			case domain.IsPermanent(err):
				c.logger.Warn("amendment details unavailable", "amendment", amendment.Key.String(), "err", err)
			default:
				return ports.Page{}, err
			}
		}
		page.Amendments = append(page.Amendments, amendment)
	}
	return page, nil
}

// enrichBill fills the fields only the detail, actions and summaries endpoints carry.
func (c *Client) enrichBill(ctx context.Context, bill *domain.Bill) error {
	path := itemPath("bill", bill.Key.Congress, string(bill.Key.Type), bill.Key.Number)

	var detail billDetailResponse
	if err := c.getJSON(ctx, c.endpoint(path, nil), &detail); err != nil {
		return err
	}
	bill.IntroducedDate = parseTime(detail.Bill.IntroducedDate)
	bill.ConstitutionalAuthorityText = PlainText(detail.Bill.ConstitutionalAuthorityStatementText)
	if bill.Title == "" {
		bill.Title = strings.TrimSpace(detail.Bill.Title)
	}

	actions, err := c.actions(ctx, path)
	if err != nil {
		return err
	}
	bill.Actions = actions

	var summaries summariesResponse
	if err := c.getOptionalJSON(ctx, c.endpoint(path+"/summaries", nil), &summaries); err != nil {
		return err
	}
	if latest, ok := latestSummary(summaries.Summaries); ok {
		bill.Description = PlainText(latest.Text)
	}
	return nil
}

func (c *Client) enrichAmendment(ctx context.Context, amendment *domain.Amendment) error {
	path := itemPath("amendment", amendment.Key.Congress, string(amendment.Key.Type), amendment.Key.Number)

	var detail amendmentDetailResponse
	if err := c.getJSON(ctx, c.endpoint(path, nil), &detail); err != nil {
		return err
	}
	amendment.Chamber = detail.Amendment.Chamber
	amendment.SubmittedDate = parseTime(detail.Amendment.SubmittedDate)
	amendment.AmendedBill = detail.Amendment.AmendedBill.key()
	if amendment.Purpose == "" {
		amendment.Purpose = PlainText(detail.Amendment.Purpose)
	}
	if amendment.Description == "" {
		amendment.Description = PlainText(detail.Amendment.Description)
	}

	actions, err := c.actions(ctx, path)
	if err != nil {
		return err
	}
	amendment.Actions = actions
	return nil
}

func (c *Client) actions(ctx context.Context, path string) (json.RawMessage, error) {
	var resp actionsResponse
	q := url.Values{}
	q.Set("limit", strconv.Itoa(maxPageSize))
	if err := c.getOptionalJSON(ctx, c.endpoint(path+"/actions", q), &resp); err != nil {
		return nil, err
	}
	if len(resp.Actions) == 0 || string(resp.Actions) == "null" {
		return nil, nil
	}
	return resp.Actions, nil
}

func latestSummary(items []summaryItem) (summaryItem, bool) {
	var (
		best  summaryItem
		found bool
	)
	for _, item := range items {
		if strings.TrimSpace(item.Text) == "" {
			continue
		}
		if !found || !parseTime(item.UpdateDate).Before(parseTime(best.UpdateDate)) {
			best = item
			found = true
		}
	}
	return best, found
}

func (c *Client) listURL(feed domain.Feed, since time.Time, offset, limit int) (string, error) {
	if c.baseURL == "" {
		return "", errors.New("congress base url is empty")
	}
	if feed.Congress <= 0 || feed.Type == "" {
		return "", fmt.Errorf("invalid feed %s", feed.Key())
	}

	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", "updateDate asc")
	if !since.IsZero() {
		q.Set("fromDateTime", since.UTC().Format(fromDateLayout))
	}
	path := fmt.Sprintf("/%s/%d/%s", feed.Kind, feed.Congress, strings.ToLower(feed.Type))
	return c.endpoint(path, q), nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	q.Set("format", "json")
	return c.baseURL + path + "?" + q.Encode()
}

func itemPath(kind string, congress int, itemType string, number int) string {
	return fmt.Sprintf("/%s/%d/%s/%d", kind, congress, strings.ToLower(itemType), number)
}

// getOptionalJSON treats 404 as an empty document.
func (c *Client) getOptionalJSON(ctx context.Context, pageURL string, out any) error {
	err := c.getJSON(ctx, pageURL, out)
	var statusErr *statusError
	if errors.As(err, &statusErr) && statusErr.code == http.StatusNotFound {
		return nil
	}
	return err
}

type statusError struct {
	code   int
	status string
	body   string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return "congress.gov returned " + e.status
	}
	return fmt.Sprintf("congress.gov returned %s: %s", e.status, e.body)
}

func (c *Client) getJSON(ctx context.Context, pageURL string, out any) error {
	const op = "congress.get"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return domain.NewError(domain.KindPermanentFetch, op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.NewError(domain.KindTransientFetch, op, fmt.Errorf("request %s: %w", redact(req.URL), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := &statusError{code: resp.StatusCode, status: resp.Status, body: strings.TrimSpace(string(body))}
		return domain.NewError(classifyStatus(resp.StatusCode), op, statusErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// a 200 with a broken body is almost always a cut connection
		return domain.NewError(domain.KindTransientFetch, op, fmt.Errorf("decode %s: %w", redact(req.URL), err))
	}
	return nil
}

func classifyStatus(code int) domain.ErrorKind {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return domain.KindTransientFetch
	default:
		return domain.KindPermanentFetch
	}
}

func redact(u *url.URL) string {
	clean := *u
	q := clean.Query()
	q.Del("api_key")
	clean.RawQuery = q.Encode()
	return clean.String()
}
