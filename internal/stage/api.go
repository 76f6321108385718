package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/fallback-engine/pkg/errors"
	"github.com/NikhilSetiya/fallback-engine/pkg/logging"
)

const (
	healthProbeTimeout = 3 * time.Second
	maxResponseBytes   = 10 << 20
)

// apiClient is the shared HTTP plumbing for upstream-backed stages
type apiClient struct {
	name       string
	baseURL    string
	healthPath string
	httpClient *http.Client
	logger     *logging.Logger
}

func newAPIClient(name, baseURL, healthPath string, timeout time.Duration, logger *logging.Logger) (*apiClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.NewValidationError(fmt.Sprintf("%s base URL is required", name))
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("%s base URL is invalid: %v", name, err))
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if healthPath == "" {
		healthPath = "/health"
	}

	return &apiClient{
		name:       name,
		baseURL:    baseURL,
		healthPath: healthPath,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// do performs one HTTP exchange and decodes the JSON response body.
// Non-2xx statuses become typed errors mapped from the status code.
func (c *apiClient) do(ctx context.Context, method, endpoint string, query url.Values, body interface{}) (interface{}, int, error) {
	requestURL := c.baseURL + endpoint
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, 0, errors.NewTransformError(c.name, "failed to encode request body").WithCause(err)
		}
		reader = bytes.NewBuffer(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, 0, errors.NewInternalError("failed to build upstream request").WithCause(err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, errors.NewTimeoutError(c.name + " request").WithCause(err)
		}
		return nil, 0, errors.NewExternalError(c.name, "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, errors.NewExternalError(c.name, "failed to read response body").WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, errors.FromStatusCode(c.name, resp.StatusCode)
	}

	if len(raw) == 0 {
		return nil, resp.StatusCode, nil
	}

	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, resp.StatusCode, errors.NewTransformError(c.name, "response is not valid JSON").WithCause(err)
	}

	return data, resp.StatusCode, nil
}

// probe checks the upstream health endpoint with a short deadline
func (c *apiClient) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"stage": c.name,
			"error": err.Error(),
		}).Debug("Upstream health probe failed")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
