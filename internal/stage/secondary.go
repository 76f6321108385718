package stage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/fallback-engine/pkg/config"
	"github.com/NikhilSetiya/fallback-engine/pkg/logging"
)

// SecondaryAPIStage calls a backup upstream that exposes the same data under
// different endpoint paths and field names. Requests are translated on the
// way out and responses are translated back, so callers always see the
// primary's conventions.
type SecondaryAPIStage struct {
	client         *apiClient
	priority       int
	timeout        time.Duration
	retryCount     int
	endpointRemaps *RemapTable
	fieldRemaps    *RemapTable
	responseRemaps *RemapTable
}

// NewSecondaryAPIStage creates the backup upstream layer. The remap tables
// are parsed and validated here so a bad mapping fails at startup rather
// than mid-cascade.
func NewSecondaryAPIStage(cfg *config.UpstreamConfig, priority int, logger *logging.Logger) (*SecondaryAPIStage, error) {
	client, err := newAPIClient(NameSecondaryAPI, cfg.BaseURL, cfg.HealthPath, cfg.Timeout, logger)
	if err != nil {
		return nil, err
	}

	endpointRemaps, err := ParseEndpointRemaps(cfg.EndpointRemaps)
	if err != nil {
		return nil, err
	}
	fieldRemaps, err := ParseFieldRemaps(cfg.FieldRemaps)
	if err != nil {
		return nil, err
	}

	return &SecondaryAPIStage{
		client:         client,
		priority:       priority,
		timeout:        cfg.Timeout,
		retryCount:     cfg.Retries,
		endpointRemaps: endpointRemaps,
		fieldRemaps:    fieldRemaps,
		responseRemaps: fieldRemaps.Inverse(),
	}, nil
}

func (s *SecondaryAPIStage) Name() string           { return NameSecondaryAPI }
func (s *SecondaryAPIStage) Priority() int          { return s.priority }
func (s *SecondaryAPIStage) Timeout() time.Duration { return s.timeout }
func (s *SecondaryAPIStage) RetryCount() int        { return s.retryCount }

// Execute translates the request into the secondary's conventions, calls it,
// and translates the response back
func (s *SecondaryAPIStage) Execute(ctx context.Context, req *Request) (*StageResult, error) {
	start := time.Now()

	endpoint, endpointChanged := s.endpointRemaps.RemapEndpoint(req.Endpoint)
	body, bodyChanged := s.fieldRemaps.RenameFields(req.Data)

	data, statusCode, err := s.client.do(ctx, req.Method, endpoint, req.QueryValues(), body)
	duration := time.Since(start)

	if err != nil {
		s.client.logger.LogStageEvent(ctx, "stage_failed", NameSecondaryAPI, logrus.Fields{
			"endpoint":        req.Endpoint,
			"remote_endpoint": endpoint,
			"status_code":     statusCode,
			"duration_ms":     duration.Milliseconds(),
			"error":           err.Error(),
		})
		result := failureResult(NameSecondaryAPI, err, duration)
		result.Metadata.StatusCode = statusCode
		return result, err
	}

	data, responseChanged := s.responseRemaps.RenameFields(data)
	transformed := endpointChanged || bodyChanged || responseChanged

	return successResult(NameSecondaryAPI, data, duration, Metadata{
		StatusCode:  statusCode,
		Transformed: transformed,
	}), nil
}

// HealthCheck probes the secondary upstream health endpoint
func (s *SecondaryAPIStage) HealthCheck(ctx context.Context) bool {
	return s.client.probe(ctx)
}
