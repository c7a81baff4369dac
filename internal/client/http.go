package client

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

	"github.com/alfredjeanlab/carts/internal/model"
	"github.com/alfredjeanlab/carts/internal/presence"
)

// HTTPClient implements CartsClient using the carts HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:5500").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Commands ---

func (c *HTTPClient) Move(ctx context.Context, cmd model.MovementCommand) (*model.Event, error) {
	var ev model.Event
	if err := c.doJSON(ctx, http.MethodPost, "/api/move", cmd, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *HTTPClient) ReportObstacle(ctx context.Context, cmd model.ObstacleCommand) (*model.Event, error) {
	var resp obstacleResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/obstaculo", cmd, &resp); err != nil {
		return nil, err
	}
	return resp.Event, nil
}

func (c *HTTPClient) SetSpeed(ctx context.Context, cmd model.SpeedCommand) (*model.Event, error) {
	var ev model.Event
	if err := c.doJSON(ctx, http.MethodPost, "/api/speed", cmd, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *HTTPClient) SubmitSequence(ctx context.Context, cmd model.SequenceCommand) (*SequenceResult, error) {
	var resp SequenceResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/sequence", cmd, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Events ---

func (c *HTTPClient) LatestEvents(ctx context.Context, deviceID int64, n int) ([]*model.Event, error) {
	path := "/api/events/" + strconv.FormatInt(deviceID, 10)
	if n > 0 {
		path += "?" + url.Values{"n": {strconv.Itoa(n)}}.Encode()
	}
	var evs []*model.Event
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &evs); err != nil {
		return nil, err
	}
	return evs, nil
}

func (c *HTTPClient) LastEvent(ctx context.Context, deviceID int64) (*model.Event, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/api/last/"+strconv.FormatInt(deviceID, 10), nil, &raw); err != nil {
		return nil, err
	}
	// A device without events is reported as {}.
	if string(bytes.TrimSpace(raw)) == "{}" {
		return nil, nil
	}
	var ev model.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &ev, nil
}

func (c *HTTPClient) Devices(ctx context.Context, idle time.Duration) ([]presence.Entry, error) {
	path := "/api/devices"
	if secs := idleSecs(idle); secs > 0 {
		path += "?" + url.Values{"idle_secs": {strconv.Itoa(secs)}}.Encode()
	}
	var resp devicesResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Devices == nil {
		resp.Devices = []presence.Entry{}
	}
	return resp.Devices, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (*HealthStatus, error) {
	var resp HealthStatus
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
	// SequenceID is set when a sequence reached the cart but its step records
	// failed to persist.
	SequenceID int64
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error      string `json:"error"`
			SequenceID int64  `json:"id_secuencia"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error, SequenceID: errResp.SequenceID}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
