package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/NikhilSetiya/fallback-engine/pkg/errors"
)

func TestParseRequest_BareString(t *testing.T) {
	req, err := ParseRequest("/users/42")
	require.NoError(t, err)

	assert.Equal(t, "/users/42", req.Endpoint)
	assert.Equal(t, "GET", req.Method)
	assert.Nil(t, req.Data)
	assert.Empty(t, req.Params)
}

func TestParseRequest_StructuredObject(t *testing.T) {
	req, err := ParseRequest(map[string]interface{}{
		"endpoint": "/orders",
		"method":   "post",
		"data":     map[string]interface{}{"total": 99.5},
		"params": map[string]interface{}{
			"expand": "items",
			"limit":  float64(10),
			"dryRun": true,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "/orders", req.Endpoint)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, map[string]interface{}{"total": 99.5}, req.Data)
	assert.Equal(t, map[string]string{
		"expand": "items",
		"limit":  "10",
		"dryRun": "true",
	}, req.Params)
}

func TestParseRequest_Normalization(t *testing.T) {
	req, err := ParseRequest("  users/42  ")
	require.NoError(t, err)
	assert.Equal(t, "/users/42", req.Endpoint)

	req, err = ParseRequest(map[string]interface{}{
		"endpoint": "/users",
		"method":   " get ",
	})
	require.NoError(t, err)
	assert.Equal(t, "GET", req.Method)
}

func TestParseRequest_PassthroughCopies(t *testing.T) {
	original := &Request{Endpoint: "/users", Method: "get"}

	req, err := ParseRequest(original)
	require.NoError(t, err)

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "get", original.Method, "input must not be mutated")
	assert.NotSame(t, original, req)
}

func TestParseRequest_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
	}{
		{"nil input", nil},
		{"empty string", ""},
		{"whitespace endpoint", "   "},
		{"missing endpoint", map[string]interface{}{"method": "GET"}},
		{"non-string endpoint", map[string]interface{}{"endpoint": 42.0}},
		{"non-string method", map[string]interface{}{"endpoint": "/users", "method": 1.0}},
		{"unknown method", map[string]interface{}{"endpoint": "/users", "method": "FETCH"}},
		{"non-object params", map[string]interface{}{"endpoint": "/users", "params": "limit=10"}},
		{"unsupported type", 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest(tt.input)
			require.Error(t, err)
			assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeValidation))
		})
	}
}

func TestRequest_Key(t *testing.T) {
	req, err := ParseRequest("/users/42")
	require.NoError(t, err)
	assert.Equal(t, "GET:/users/42", req.Key())
}

func TestRequest_KeySortsParams(t *testing.T) {
	a, err := ParseRequest(map[string]interface{}{
		"endpoint": "/search",
		"params":   map[string]interface{}{"q": "widgets", "limit": float64(5)},
	})
	require.NoError(t, err)

	b, err := ParseRequest(map[string]interface{}{
		"endpoint": "/search",
		"params":   map[string]interface{}{"limit": float64(5), "q": "widgets"},
	})
	require.NoError(t, err)

	assert.Equal(t, "GET:/search?limit=5&q=widgets", a.Key())
	assert.Equal(t, a.Key(), b.Key())
}

func TestRequest_KeyIncludesBodyDigest(t *testing.T) {
	withBody, err := ParseRequest(map[string]interface{}{
		"endpoint": "/users",
		"method":   "POST",
		"data":     map[string]interface{}{"name": "John"},
	})
	require.NoError(t, err)

	withoutBody, err := ParseRequest(map[string]interface{}{
		"endpoint": "/users",
		"method":   "POST",
	})
	require.NoError(t, err)

	assert.NotEqual(t, withBody.Key(), withoutBody.Key())
	assert.Contains(t, withBody.Key(), "POST:/users#")
}
