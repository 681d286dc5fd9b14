package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/alburaq/catalogsync/internal/catalog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultBaseURL = "http://127.0.0.1:8080"
	DefaultPath    = "/products"
	DefaultTimeout = 15 * time.Second
)

type HTTPClientOptions struct {
	BaseURL string
	Path    string
	// Token is sent as a bearer token when set.
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type HTTPClient struct {
	baseURL    string
	path       string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:    baseURL,
		path:       strings.TrimRight(path, "/"),
		token:      strings.TrimSpace(opts.Token),
		timeout:    opts.Timeout,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (c *HTTPClient) Endpoint() string {
	return c.baseURL + c.path
}

func (c *HTTPClient) Fetch(ctx context.Context) (Document, bool) {
	doc, err := c.FetchDocument(ctx)
	if err != nil {
		c.logger.Warn("remote catalog fetch failed", zap.String("endpoint", c.Endpoint()), zap.Error(err))
		return Document{}, false
	}
	return doc, true
}

// FetchDocument is Fetch with the failure reason kept.
func (c *HTTPClient) FetchDocument(ctx context.Context) (Document, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var wire wireDocument
	header, err := c.doJSON(ctx, http.MethodGet, nil, nil, &wire)
	if err != nil {
		return Document{}, err
	}
	doc, err := wire.document()
	if err != nil {
		return Document{}, err
	}
	doc.ETag = strings.Trim(header.Get("ETag"), `"`)
	return doc, nil
}

func (c *HTTPClient) Push(ctx context.Context, products []catalog.Product) Result {
	return c.push(ctx, products, nil)
}

func (c *HTTPClient) PushIfMatch(ctx context.Context, products []catalog.Product, etag string) Result {
	return c.push(ctx, products, map[string]string{"If-Match": strconv.Quote(etag)})
}

type pushResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Error   string        `json:"error"`
	Data    *wireDocument `json:"data"`
}

func (c *HTTPClient) push(ctx context.Context, products []catalog.Product, headers map[string]string) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if products == nil {
		products = []catalog.Product{}
	}
	body := map[string]any{"products": products}
	var out pushResponse
	header, err := c.doJSON(ctx, http.MethodPost, headers, body, &out)
	if err != nil {
		c.logger.Warn("remote catalog push failed", zap.String("endpoint", c.Endpoint()), zap.Error(err))
		return Result{Success: false, Message: err.Error()}
	}
	if out.Error != "" {
		return Result{Success: false, Message: out.Error}
	}
	if !out.Success {
		msg := out.Message
		if msg == "" {
			msg = "remote endpoint did not confirm the write"
		}
		return Result{Success: false, Message: msg}
	}
	res := Result{Success: true, Message: out.Message}
	if out.Data != nil {
		if doc, err := out.Data.document(); err == nil {
			doc.ETag = strings.Trim(header.Get("ETag"), `"`)
			res.Document = &doc
		}
	}
	return res
}

func (c *HTTPClient) doJSON(
	ctx context.Context,
	method string,
	headers map[string]string,
	body any,
	out any,
) (http.Header, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.Endpoint(), bodyReader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("X-Correlation-Id", correlationID())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil {
				return resp.Header, nil
			}
			if err := json.Unmarshal(payloadBytes, out); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
			}
			return resp.Header, nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		if resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed {
			return nil, &ConflictError{ETag: strings.Trim(resp.Header.Get("ETag"), `"`)}
		}
		var errPayload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		message := errPayload.Message
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Error,
			Message:    message,
		}
	}
}

func correlationID() string {
	return fmt.Sprintf("catalogsync_%d", time.Now().UnixNano())
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
