package stage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/fallback-engine/pkg/config"
	"github.com/NikhilSetiya/fallback-engine/pkg/logging"
)

// PrimaryAPIStage calls the primary upstream service directly, passing the
// request through without translation
type PrimaryAPIStage struct {
	client     *apiClient
	priority   int
	timeout    time.Duration
	retryCount int
}

// NewPrimaryAPIStage creates the first cascade layer from upstream config
func NewPrimaryAPIStage(cfg *config.UpstreamConfig, priority int, logger *logging.Logger) (*PrimaryAPIStage, error) {
	client, err := newAPIClient(NamePrimaryAPI, cfg.BaseURL, cfg.HealthPath, cfg.Timeout, logger)
	if err != nil {
		return nil, err
	}

	return &PrimaryAPIStage{
		client:     client,
		priority:   priority,
		timeout:    cfg.Timeout,
		retryCount: cfg.Retries,
	}, nil
}

func (s *PrimaryAPIStage) Name() string           { return NamePrimaryAPI }
func (s *PrimaryAPIStage) Priority() int          { return s.priority }
func (s *PrimaryAPIStage) Timeout() time.Duration { return s.timeout }
func (s *PrimaryAPIStage) RetryCount() int        { return s.retryCount }

// Execute forwards the request to the primary upstream
func (s *PrimaryAPIStage) Execute(ctx context.Context, req *Request) (*StageResult, error) {
	start := time.Now()

	data, statusCode, err := s.client.do(ctx, req.Method, req.Endpoint, req.QueryValues(), req.Data)
	duration := time.Since(start)

	if err != nil {
		s.client.logger.LogStageEvent(ctx, "stage_failed", NamePrimaryAPI, logrus.Fields{
			"endpoint":    req.Endpoint,
			"status_code": statusCode,
			"duration_ms": duration.Milliseconds(),
			"error":       err.Error(),
		})
		result := failureResult(NamePrimaryAPI, err, duration)
		result.Metadata.StatusCode = statusCode
		return result, err
	}

	return successResult(NamePrimaryAPI, data, duration, Metadata{StatusCode: statusCode}), nil
}

// HealthCheck probes the primary upstream health endpoint
func (s *PrimaryAPIStage) HealthCheck(ctx context.Context) bool {
	return s.client.probe(ctx)
}
