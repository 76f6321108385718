package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpointRemaps(t *testing.T) {
	table, err := ParseEndpointRemaps("/users:/api/v2/accounts, /orders:/api/v2/purchases")
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
}

func TestParseEndpointRemaps_Empty(t *testing.T) {
	table, err := ParseEndpointRemaps("")
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())

	path, changed := table.RemapEndpoint("/users")
	assert.Equal(t, "/users", path)
	assert.False(t, changed)
}

func TestParseEndpointRemaps_Invalid(t *testing.T) {
	tests := []struct {
		name string
		spec string
	}{
		{"missing separator", "/users"},
		{"empty target", "/users:"},
		{"empty source", ":/accounts"},
		{"relative path", "users:accounts"},
		{"self mapping", "/users:/users"},
		{"duplicate source", "/users:/a,/users:/b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEndpointRemaps(tt.spec)
			assert.Error(t, err)
		})
	}
}

func TestRemapTable_RemapEndpoint(t *testing.T) {
	table, err := ParseEndpointRemaps("/users:/api/v2/accounts,/orders:/api/v2/purchases")
	require.NoError(t, err)

	path, changed := table.RemapEndpoint("/users")
	assert.True(t, changed)
	assert.Equal(t, "/api/v2/accounts", path)

	path, changed = table.RemapEndpoint("/users/42")
	assert.True(t, changed)
	assert.Equal(t, "/api/v2/accounts/42", path)

	path, changed = table.RemapEndpoint("/usersummary")
	assert.False(t, changed, "prefix must end at a segment boundary")
	assert.Equal(t, "/usersummary", path)

	path, changed = table.RemapEndpoint("/products")
	assert.False(t, changed)
	assert.Equal(t, "/products", path)
}

func TestRemapTable_FirstMatchWins(t *testing.T) {
	table, err := ParseEndpointRemaps("/api/users:/v2/members,/api:/legacy")
	require.NoError(t, err)

	path, changed := table.RemapEndpoint("/api/users/7")
	assert.True(t, changed)
	assert.Equal(t, "/v2/members/7", path)

	path, changed = table.RemapEndpoint("/api/orders")
	assert.True(t, changed)
	assert.Equal(t, "/legacy/orders", path)
}

func TestParseFieldRemaps_Invalid(t *testing.T) {
	_, err := ParseFieldRemaps("name:user Name")
	assert.Error(t, err)

	_, err = ParseFieldRemaps("name:/userName")
	assert.Error(t, err)
}

func TestRemapTable_RenameFields(t *testing.T) {
	table, err := ParseFieldRemaps("name:userName,email:contactEmail")
	require.NoError(t, err)

	renamed, changed := table.RenameFields(map[string]interface{}{
		"name":  "John",
		"email": "john@example.com",
		"age":   30.0,
	})
	require.True(t, changed)
	assert.Equal(t, map[string]interface{}{
		"userName":     "John",
		"contactEmail": "john@example.com",
		"age":          30.0,
	}, renamed)
}

func TestRemapTable_RenameFieldsArray(t *testing.T) {
	table, err := ParseFieldRemaps("name:userName")
	require.NoError(t, err)

	renamed, changed := table.RenameFields([]interface{}{
		map[string]interface{}{"name": "John"},
		map[string]interface{}{"name": "Jane"},
		"not an object",
	})
	require.True(t, changed)

	list, ok := renamed.([]interface{})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"userName": "John"}, list[0])
	assert.Equal(t, map[string]interface{}{"userName": "Jane"}, list[1])
	assert.Equal(t, "not an object", list[2])
}

func TestRemapTable_RenameFieldsPassthrough(t *testing.T) {
	table, err := ParseFieldRemaps("name:userName")
	require.NoError(t, err)

	value, changed := table.RenameFields("scalar")
	assert.False(t, changed)
	assert.Equal(t, "scalar", value)

	value, changed = table.RenameFields(nil)
	assert.False(t, changed)
	assert.Nil(t, value)

	value, changed = table.RenameFields(map[string]interface{}{"id": 1.0})
	assert.False(t, changed)
	assert.Equal(t, map[string]interface{}{"id": 1.0}, value)
}

func TestRemapTable_Inverse(t *testing.T) {
	table, err := ParseFieldRemaps("name:userName,email:contactEmail")
	require.NoError(t, err)

	inverse := table.Inverse()
	renamed, changed := inverse.RenameFields(map[string]interface{}{
		"userName":     "John",
		"contactEmail": "john@example.com",
	})
	require.True(t, changed)
	assert.Equal(t, map[string]interface{}{
		"name":  "John",
		"email": "john@example.com",
	}, renamed)
}
