package stage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/fallback-engine/pkg/config"
	appErrors "github.com/NikhilSetiya/fallback-engine/pkg/errors"
	"github.com/NikhilSetiya/fallback-engine/pkg/logging"
)

func upstreamConfig(baseURL string) *config.UpstreamConfig {
	return &config.UpstreamConfig{
		BaseURL:    baseURL,
		HealthPath: "/health",
		Timeout:    2 * time.Second,
		Retries:    2,
	}
}

func mustParse(t *testing.T, input interface{}) *Request {
	t.Helper()
	req, err := ParseRequest(input)
	require.NoError(t, err)
	return req
}

func TestPrimaryAPIStage_Execute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/42", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"id": 42, "name": "John"})
	}))
	defer server.Close()

	primary, err := NewPrimaryAPIStage(upstreamConfig(server.URL), 1, logging.GetLogger())
	require.NoError(t, err)

	assert.Equal(t, "primary-api", primary.Name())
	assert.Equal(t, 1, primary.Priority())
	assert.Equal(t, 2, primary.RetryCount())

	result, err := primary.Execute(context.Background(), mustParse(t, "/users/42"))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "primary-api", result.StageName)
	assert.Equal(t, "primary-api", result.Metadata.Source)
	assert.Equal(t, http.StatusOK, result.Metadata.StatusCode)
	assert.False(t, result.Metadata.Cached)

	data, ok := result.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "John", data["name"])
}

func TestPrimaryAPIStage_QueryParamsAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "John", body["name"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": 1})
	}))
	defer server.Close()

	primary, err := NewPrimaryAPIStage(upstreamConfig(server.URL), 1, logging.GetLogger())
	require.NoError(t, err)

	req := mustParse(t, map[string]interface{}{
		"endpoint": "/users",
		"method":   "POST",
		"data":     map[string]interface{}{"name": "John"},
		"params":   map[string]interface{}{"limit": float64(5)},
	})

	result, err := primary.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, http.StatusCreated, result.Metadata.StatusCode)
}

func TestPrimaryAPIStage_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		errorType  appErrors.ErrorType
		retryable  bool
	}{
		{"server error", http.StatusInternalServerError, appErrors.ErrorTypeExternal, true},
		{"service unavailable", http.StatusServiceUnavailable, appErrors.ErrorTypeExternal, true},
		{"rate limited", http.StatusTooManyRequests, appErrors.ErrorTypeRateLimit, true},
		{"not found", http.StatusNotFound, appErrors.ErrorTypeNotFound, false},
		{"bad request", http.StatusBadRequest, appErrors.ErrorTypeValidation, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			primary, err := NewPrimaryAPIStage(upstreamConfig(server.URL), 1, logging.GetLogger())
			require.NoError(t, err)

			result, err := primary.Execute(context.Background(), mustParse(t, "/users"))
			require.Error(t, err)

			assert.False(t, result.Success)
			assert.Equal(t, tt.statusCode, result.Metadata.StatusCode)
			assert.True(t, appErrors.IsType(err, tt.errorType))
			assert.Equal(t, tt.retryable, appErrors.IsRetryable(err))
		})
	}
}

func TestPrimaryAPIStage_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	primary, err := NewPrimaryAPIStage(upstreamConfig(server.URL), 1, logging.GetLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := primary.Execute(ctx, mustParse(t, "/users"))
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeTimeout))
	assert.True(t, appErrors.IsRetryable(err))
}

func TestPrimaryAPIStage_UnreachableUpstream(t *testing.T) {
	primary, err := NewPrimaryAPIStage(upstreamConfig("http://127.0.0.1:1"), 1, logging.GetLogger())
	require.NoError(t, err)

	result, err := primary.Execute(context.Background(), mustParse(t, "/users"))
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeExternal))
	assert.True(t, appErrors.IsRetryable(err))
}

func TestPrimaryAPIStage_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not json"))
	}))
	defer server.Close()

	primary, err := NewPrimaryAPIStage(upstreamConfig(server.URL), 1, logging.GetLogger())
	require.NoError(t, err)

	_, err = primary.Execute(context.Background(), mustParse(t, "/users"))
	require.Error(t, err)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeTransform))
	assert.False(t, appErrors.IsRetryable(err))
}

func TestPrimaryAPIStage_EmptyResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	primary, err := NewPrimaryAPIStage(upstreamConfig(server.URL), 1, logging.GetLogger())
	require.NoError(t, err)

	result, err := primary.Execute(context.Background(), mustParse(t, "/users"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Nil(t, result.Data)
}

func TestPrimaryAPIStage_HealthCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	primary, err := NewPrimaryAPIStage(upstreamConfig(healthy.URL), 1, logging.GetLogger())
	require.NoError(t, err)
	assert.True(t, primary.HealthCheck(context.Background()))

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer unhealthy.Close()

	primary, err = NewPrimaryAPIStage(upstreamConfig(unhealthy.URL), 1, logging.GetLogger())
	require.NoError(t, err)
	assert.False(t, primary.HealthCheck(context.Background()))

	primary, err = NewPrimaryAPIStage(upstreamConfig("http://127.0.0.1:1"), 1, logging.GetLogger())
	require.NoError(t, err)
	assert.False(t, primary.HealthCheck(context.Background()))
}

func TestNewPrimaryAPIStage_RequiresBaseURL(t *testing.T) {
	_, err := NewPrimaryAPIStage(upstreamConfig(""), 1, logging.GetLogger())
	require.Error(t, err)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeValidation))
}

func TestSecondaryAPIStage_RemapsEndpointAndFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/accounts", r.URL.Path)

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "John", body["userName"])
		assert.NotContains(t, body, "name")

		json.NewEncoder(w).Encode(map[string]interface{}{"id": 7, "userName": "John"})
	}))
	defer server.Close()

	cfg := upstreamConfig(server.URL)
	cfg.EndpointRemaps = "/users:/api/v2/accounts"
	cfg.FieldRemaps = "name:userName"

	secondary, err := NewSecondaryAPIStage(cfg, 2, logging.GetLogger())
	require.NoError(t, err)
	assert.Equal(t, "secondary-api", secondary.Name())

	req := mustParse(t, map[string]interface{}{
		"endpoint": "/users",
		"method":   "POST",
		"data":     map[string]interface{}{"name": "John"},
	})

	result, err := secondary.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.Metadata.Transformed)

	data, ok := result.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "John", data["name"], "response fields are translated back")
	assert.NotContains(t, data, "userName")
}

func TestSecondaryAPIStage_RemapsNestedEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/accounts/42", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": 42})
	}))
	defer server.Close()

	cfg := upstreamConfig(server.URL)
	cfg.EndpointRemaps = "/users:/api/v2/accounts"

	secondary, err := NewSecondaryAPIStage(cfg, 2, logging.GetLogger())
	require.NoError(t, err)

	result, err := secondary.Execute(context.Background(), mustParse(t, "/users/42"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Metadata.Transformed)
}

func TestSecondaryAPIStage_TranslatesArrayResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]interface{}{
			map[string]interface{}{"userName": "John"},
			map[string]interface{}{"userName": "Jane"},
		})
	}))
	defer server.Close()

	cfg := upstreamConfig(server.URL)
	cfg.FieldRemaps = "name:userName"

	secondary, err := NewSecondaryAPIStage(cfg, 2, logging.GetLogger())
	require.NoError(t, err)

	result, err := secondary.Execute(context.Background(), mustParse(t, "/users"))
	require.NoError(t, err)

	list, ok := result.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, list, 2)
	assert.Equal(t, map[string]interface{}{"name": "John"}, list[0])
	assert.Equal(t, map[string]interface{}{"name": "Jane"}, list[1])
}

func TestSecondaryAPIStage_PassthroughWithoutRemaps(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": 1})
	}))
	defer server.Close()

	secondary, err := NewSecondaryAPIStage(upstreamConfig(server.URL), 2, logging.GetLogger())
	require.NoError(t, err)

	result, err := secondary.Execute(context.Background(), mustParse(t, "/users"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Metadata.Transformed)
}

func TestNewSecondaryAPIStage_InvalidRemaps(t *testing.T) {
	cfg := upstreamConfig("http://localhost:9000")
	cfg.EndpointRemaps = "/users"

	_, err := NewSecondaryAPIStage(cfg, 2, logging.GetLogger())
	require.Error(t, err)

	cfg = upstreamConfig("http://localhost:9000")
	cfg.FieldRemaps = "name:userName,name:other"

	_, err = NewSecondaryAPIStage(cfg, 2, logging.GetLogger())
	require.Error(t, err)
}

func TestSecondaryAPIStage_UpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	secondary, err := NewSecondaryAPIStage(upstreamConfig(server.URL), 2, logging.GetLogger())
	require.NoError(t, err)

	result, err := secondary.Execute(context.Background(), mustParse(t, "/users"))
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, http.StatusBadGateway, result.Metadata.StatusCode)
	assert.True(t, appErrors.IsRetryable(err))
}
