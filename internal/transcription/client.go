package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ireoo/autotalk/internal/audio"
	"github.com/Ireoo/autotalk/internal/recognizer"
)

const (
	inferencePath     = "/inference"
	maxBackoff        = 30 * time.Second
	defaultTimeout    = 30 * time.Second
	defaultBackoff    = time.Second
	maxErrorBodyBytes = 512
)

var _ recognizer.Recognizer = (*Client)(nil)

// Config contains transcription client configuration
type Config struct {
	Endpoint     string // whisper-server base URL, e.g. http://127.0.0.1:8080
	APIKey       string // optional bearer token
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration // first retry delay, doubled per attempt
	Params       recognizer.Params
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.Code, e.Body)
}

// Client sends utterance snapshots to a whisper-server /inference endpoint.
type Client struct {
	config     Config
	httpClient *http.Client
	inFlight   atomic.Int32
	closed     atomic.Bool

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

type inferenceResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
	Error string `json:"error"`
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	config.Endpoint = strings.TrimRight(config.Endpoint, "/")

	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaultBackoff
	}
	if config.Params.SampleRate <= 0 {
		config.Params.SampleRate = 16000
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
	}, nil
}

// Transcribe uploads samples and returns the recognized segments.
func (c *Client) Transcribe(ctx context.Context, samples []float32) (recognizer.Result, error) {
	if c.closed.Load() {
		return recognizer.Result{}, recognizer.ErrClosed
	}

	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	wavData, err := audio.EncodeWAV(samples, c.config.Params.SampleRate)
	if err != nil {
		return recognizer.Result{}, fmt.Errorf("failed to encode audio: %w", err)
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	var lastErr error

	// Retry loop with exponential backoff
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * c.config.RetryBackoff
			if backoffTime > maxBackoff {
				backoffTime = maxBackoff
			}

			timer := time.NewTimer(backoffTime)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				c.incrementFailedRequests()
				return recognizer.Result{}, ctx.Err()
			}
		}

		res, err := c.doRequest(ctx, wavData)
		if err == nil {
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(time.Since(startTime))
			return res, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	c.incrementFailedRequests()
	return recognizer.Result{}, fmt.Errorf("transcription failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// doRequest performs a single HTTP request to the inference endpoint
func (c *Client) doRequest(ctx context.Context, wavData []byte) (recognizer.Result, error) {
	body, contentType, err := c.createMultipartRequest(wavData)
	if err != nil {
		return recognizer.Result{}, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+inferencePath, body)
	if err != nil {
		return recognizer.Result{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "autotalk/1.0")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return recognizer.Result{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return recognizer.Result{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := string(respBody)
		if len(text) > maxErrorBodyBytes {
			text = text[:maxErrorBodyBytes]
		}
		return recognizer.Result{}, &StatusError{Code: resp.StatusCode, Body: text}
	}

	var parsed inferenceResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return recognizer.Result{}, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if parsed.Error != "" {
		return recognizer.Result{}, fmt.Errorf("inference error: %s", parsed.Error)
	}

	return toResult(parsed), nil
}

func toResult(parsed inferenceResponse) recognizer.Result {
	var res recognizer.Result
	if len(parsed.Segments) > 0 {
		for _, s := range parsed.Segments {
			if s.Text == "" {
				continue
			}
			res.Segments = append(res.Segments, recognizer.Segment{
				Start: time.Duration(s.Start * float64(time.Second)),
				End:   time.Duration(s.End * float64(time.Second)),
				Text:  s.Text,
			})
		}
		return res
	}
	if parsed.Text != "" {
		res.Segments = []recognizer.Segment{{Text: parsed.Text}}
	}
	return res
}

// createMultipartRequest creates the multipart/form-data body understood by whisper-server
func (c *Client) createMultipartRequest(wavData []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	p := c.config.Params
	fields := [][2]string{
		{"response_format", "json"},
		{"temperature", fmt.Sprintf("%.2f", p.Temperature)},
		{"temperature_inc", fmt.Sprintf("%.2f", p.TemperatureFallback)},
	}
	if p.Language != "" {
		fields = append(fields, [2]string{"language", p.Language})
	}
	if p.Threads > 0 {
		fields = append(fields, [2]string{"threads", fmt.Sprintf("%d", p.Threads)})
	}

	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError reports whether a request error is worth another attempt:
// server errors, rate limiting and network failures are; client errors and cancellation are not.
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == http.StatusTooManyRequests
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  int(c.inFlight.Load()),
	}
}

// Close stops accepting requests and releases idle connections.
func (c *Client) Close() error {
	c.closed.Store(true)
	c.httpClient.CloseIdleConnections()
	return nil
}
