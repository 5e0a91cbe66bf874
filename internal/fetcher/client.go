package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fxreport/internal/logging"
	"fxreport/internal/rates"
	"fxreport/internal/version"
)

// DefaultBaseURL is the exchangerates_data endpoint.
const DefaultBaseURL = "https://api.apilayer.com/exchangerates_data"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=fetcher_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches historical rates from the exchangerates_data API.
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient HTTPClient
	archive    *Archive
	logger     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds each request.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua = strings.TrimSpace(ua); ua != "" {
			c.userAgent = ua
		}
	}
}

// WithArchive stores every successful raw payload.
func WithArchive(archive *Archive) ClientOption {
	return func(c *Client) {
		c.archive = archive
	}
}

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logging.Component(logger, "rate_fetcher")
	}
}

// NewClient constructs a rate fetcher authenticated with apiKey.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		userAgent:  version.UserAgent(),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch requests the rates of symbols against base on date.
func (c *Client) Fetch(ctx context.Context, date time.Time, symbols []string, base string) (rates.RateSet, error) {
	date = rates.Date(date)
	day := rates.FormatDate(date)

	query := url.Values{}
	query.Set("symbols", strings.Join(symbols, ","))
	query.Set("base", base)
	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, day, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return rates.RateSet{}, &FetchError{Kind: KindTransport, Date: date, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return rates.RateSet{}, &FetchError{Kind: KindTransport, Date: date, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return rates.RateSet{}, &FetchError{Kind: KindTransport, Date: date, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rates.RateSet{}, &FetchError{
			Kind:    KindStatus,
			Date:    date,
			Status:  resp.StatusCode,
			Message: providerMessage(payload),
		}
	}

	set, err := Decode(payload)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			fe.Date = date
			return rates.RateSet{}, fe
		}
		return rates.RateSet{}, &FetchError{Kind: KindPayload, Date: date, Err: err}
	}

	if c.archive != nil {
		if err := c.archive.Save(date, payload); err != nil {
			c.logger.Warn().Err(err).Str("date", day).Msg("归档汇率原始数据失败")
		}
	}

	c.logger.Debug().
		Str("date", day).
		Str("base", set.Base).
		Int("rates", len(set.Rates)).
		Msg("fetched rates")
	return set, nil
}

type ratesPayload struct {
	Success *bool                      `json:"success"`
	Base    string                     `json:"base"`
	Date    string                     `json:"date"`
	Rates   map[string]decimal.Decimal `json:"rates"`
	Error   *providerError             `json:"error"`
}

type providerError struct {
	Code any    `json:"code"`
	Type string `json:"type"`
	Info string `json:"info"`
}

// Decode parses a provider payload into a rate set. A payload without date or rates is
// malformed; checks on the values themselves belong to rates.Validate.
func Decode(payload []byte) (rates.RateSet, error) {
	var body ratesPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return rates.RateSet{}, &FetchError{Kind: KindPayload, Err: err}
	}
	if body.Success != nil && !*body.Success {
		msg := "provider reported failure"
		if body.Error != nil {
			msg = firstNonEmpty(body.Error.Info, body.Error.Type, msg)
		}
		return rates.RateSet{}, &FetchError{Kind: KindPayload, Message: msg}
	}

	if body.Date == "" {
		return rates.RateSet{}, &FetchError{Kind: KindPayload, Message: "missing date"}
	}
	if body.Rates == nil {
		return rates.RateSet{}, &FetchError{Kind: KindPayload, Message: "missing rates"}
	}
	date, err := rates.ParseDate(body.Date)
	if err != nil {
		return rates.RateSet{}, &FetchError{Kind: KindPayload, Message: "invalid date", Err: err}
	}

	set := rates.RateSet{
		Base:  rates.NormalizeCode(body.Base),
		Date:  date,
		Rates: make(map[string]decimal.Decimal, len(body.Rates)),
	}
	for code, rate := range body.Rates {
		set.Rates[rates.NormalizeCode(code)] = rate
	}
	return set, nil
}

func providerMessage(payload []byte) string {
	var body struct {
		Message string         `json:"message"`
		Error   *providerError `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != nil {
			if msg := firstNonEmpty(body.Error.Info, body.Error.Type); msg != "" {
				return msg
			}
		}
	}
	return strings.TrimSpace(string(payload))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var _ Fetcher = (*Client)(nil)
