package stage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/fallback-engine/pkg/config"
	"github.com/NikhilSetiya/fallback-engine/pkg/logging"
)

func newStaticStage(t *testing.T, cfg *config.StaticConfig) *StaticDefaultStage {
	t.Helper()
	if cfg == nil {
		cfg = &config.StaticConfig{SmartDefaults: true}
	}
	return NewStaticDefaultStage(cfg, 5, logging.GetLogger())
}

func executeStatic(t *testing.T, static *StaticDefaultStage, input interface{}) map[string]interface{} {
	t.Helper()
	result, err := static.Execute(context.Background(), mustParse(t, input))
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "static-default", result.StageName)

	payload, ok := result.Data.(map[string]interface{})
	require.True(t, ok)
	return payload
}

func TestStaticDefaultStage_SynthesizesUserEntity(t *testing.T) {
	static := newStaticStage(t, nil)

	payload := executeStatic(t, static, "/users/42")

	assert.Equal(t, "42", payload["id"])
	assert.Equal(t, "Guest User", payload["name"])
	assert.Equal(t, "fallback", payload["status"])
	assert.NotEmpty(t, payload["timestamp"])
}

func TestStaticDefaultStage_SynthesizesKnownEntities(t *testing.T) {
	static := newStaticStage(t, nil)

	product := executeStatic(t, static, "/products/7")
	assert.Equal(t, "7", product["id"])
	assert.Equal(t, false, product["available"])

	order := executeStatic(t, static, "/orders/1001")
	assert.Equal(t, "1001", order["id"])
	assert.Equal(t, "pending", order["status"], "synthesized status is kept")
	assert.Equal(t, []interface{}{}, order["items"])
}

func TestStaticDefaultStage_GeneratesIDForCollectionPaths(t *testing.T) {
	static := newStaticStage(t, nil)

	payload := executeStatic(t, static, "/users")
	id, ok := payload["id"].(string)
	require.True(t, ok)
	assert.NotEmpty(t, id)
}

func TestStaticDefaultStage_InfersShapeFromRequestBody(t *testing.T) {
	static := newStaticStage(t, nil)

	payload := executeStatic(t, static, map[string]interface{}{
		"endpoint": "/widgets",
		"method":   "POST",
		"data": map[string]interface{}{
			"title":   "hello",
			"count":   3.0,
			"enabled": true,
			"tags":    []interface{}{"a"},
			"nested":  map[string]interface{}{"x": 1.0},
		},
	})

	assert.Equal(t, "", payload["title"])
	assert.Equal(t, 0, payload["count"])
	assert.Equal(t, false, payload["enabled"])
	assert.Equal(t, []interface{}{}, payload["tags"])
	assert.Equal(t, map[string]interface{}{}, payload["nested"])
	assert.Equal(t, "fallback", payload["status"])
}

func TestStaticDefaultStage_SmartDefaultsAlone(t *testing.T) {
	static := newStaticStage(t, nil)

	payload := executeStatic(t, static, "/totally/unknown")

	assert.Equal(t, "fallback", payload["status"])
	assert.NotEmpty(t, payload["id"])
	assert.NotEmpty(t, payload["timestamp"])
	assert.NotEmpty(t, payload["message"])

	parsed, err := time.Parse(time.RFC3339, payload["timestamp"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), parsed, time.Minute)
}

func TestStaticDefaultStage_EmergencyPayload(t *testing.T) {
	static := newStaticStage(t, &config.StaticConfig{SmartDefaults: false})

	payload := executeStatic(t, static, "/totally/unknown")

	assert.Equal(t, "error", payload["status"])
	assert.Equal(t, true, payload["fallback"])
	assert.Nil(t, payload["data"])
}

func TestStaticDefaultStage_FallbackFileByEndpoint(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "fallbacks.json")
	doc := `{
		"/users/42": {"id": 42, "name": "Stored User"},
		"default": {"status": "degraded"}
	}`
	require.NoError(t, os.WriteFile(file, []byte(doc), 0644))

	static := newStaticStage(t, &config.StaticConfig{FallbackFile: file, SmartDefaults: true})

	payload := executeStatic(t, static, "/users/42")
	assert.Equal(t, "Stored User", payload["name"])

	payload = executeStatic(t, static, "/anything/else")
	assert.Equal(t, "degraded", payload["status"])
}

func TestStaticDefaultStage_FallbackFileUnreadable(t *testing.T) {
	static := newStaticStage(t, &config.StaticConfig{
		FallbackFile:  "/nonexistent/fallbacks.json",
		SmartDefaults: true,
	})

	payload := executeStatic(t, static, "/users/42")
	assert.Equal(t, "Guest User", payload["name"], "missing file falls through to synthesis")
}

func TestStaticDefaultStage_FallbackFileInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(file, []byte("{not json"), 0644))

	static := newStaticStage(t, &config.StaticConfig{FallbackFile: file, SmartDefaults: true})

	payload := executeStatic(t, static, "/users/42")
	assert.Equal(t, "Guest User", payload["name"])
}

func TestStaticDefaultStage_NeverFails(t *testing.T) {
	static := newStaticStage(t, nil)

	inputs := []interface{}{
		"/users/42",
		"/a/b/c/d/e",
		map[string]interface{}{"endpoint": "/x", "data": map[string]interface{}{"k": "v"}},
	}

	for _, input := range inputs {
		result, err := static.Execute(context.Background(), mustParse(t, input))
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.NotNil(t, result.Data)
	}

	assert.True(t, static.HealthCheck(context.Background()))
	assert.Equal(t, time.Duration(0), static.Timeout())
	assert.Equal(t, 0, static.RetryCount())
}
