package jsonx

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldPresence(t *testing.T) {
	type payload struct {
		Name Field[string] `json:"name"`
		Age  Field[int]    `json:"age"`
	}

	var p payload
	require.NoError(t, json.Unmarshal([]byte(`{"name":null}`), &p))

	assert.True(t, p.Name.IsSet())
	assert.True(t, p.Name.IsNull())
	assert.Nil(t, p.Name.Value())

	assert.False(t, p.Age.IsSet())
	assert.False(t, p.Age.IsNull())

	p = payload{}
	require.NoError(t, json.Unmarshal([]byte(`{"name":"ada","age":36}`), &p))
	require.NotNil(t, p.Name.Value())
	assert.Equal(t, "ada", *p.Name.Value())
	require.NotNil(t, p.Age.Value())
	assert.Equal(t, 36, *p.Age.Value())
}

func TestFieldTypeMismatch(t *testing.T) {
	var p struct {
		Age Field[int] `json:"age"`
	}
	assert.Error(t, json.Unmarshal([]byte(`{"age":"ten"}`), &p))
}

func TestParseStrictBody(t *testing.T) {
	type body struct {
		Name string `json:"name"`
	}

	parse := func(raw string) (body, error) {
		var b body
		req := httptest.NewRequest("POST", "/", strings.NewReader(raw))
		return b, ParseStrictBody(req, &b)
	}

	b, err := parse(`{"name":"ok"}`)
	require.NoError(t, err)
	assert.Equal(t, "ok", b.Name)

	_, err = parse(``)
	assert.ErrorIs(t, err, ErrEmptyBody)

	_, err = parse(`   `)
	assert.ErrorIs(t, err, ErrEmptyBody)

	_, err = parse(`{"name":"ok","extra":1}`)
	assert.Error(t, err, "unknown fields are rejected")

	_, err = parse(`{"name":"ok"}{"name":"again"}`)
	assert.ErrorIs(t, err, ErrTrailingJSON)

	_, err = parse(`{"name":`)
	assert.Error(t, err)
}
