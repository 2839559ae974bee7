package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionalStringTriState(t *testing.T) {
	var p SetRoomPasswordPayload

	// Absent key: zero value.
	require.NoError(t, json.Unmarshal([]byte(`{}`), &p))
	assert.False(t, p.Password.Present)

	// Explicit null: remove.
	p = SetRoomPasswordPayload{}
	require.NoError(t, json.Unmarshal([]byte(`{"password":null}`), &p))
	assert.True(t, p.Password.Present)
	assert.True(t, p.Password.Null)

	// Empty string: generate.
	p = SetRoomPasswordPayload{}
	require.NoError(t, json.Unmarshal([]byte(`{"password":""}`), &p))
	assert.True(t, p.Password.Present)
	assert.False(t, p.Password.Null)
	assert.Equal(t, "", p.Password.Value)

	// Text: set.
	p = SetRoomPasswordPayload{}
	require.NoError(t, json.Unmarshal([]byte(`{"password":"hunter2"}`), &p))
	assert.Equal(t, "hunter2", p.Password.Value)
}

func TestEventEnvelope(t *testing.T) {
	ev := MustEvent(EvError, ErrorPayload{Code: CodeRateLimited})

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, EvError, decoded.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(decoded.Payload, &payload))
	assert.Equal(t, CodeRateLimited, payload.Code)
}

func TestCodeHTTPStatus(t *testing.T) {
	assert.Equal(t, 429, CodeRateLimited.HTTPStatus())
	assert.Equal(t, 410, CodeShareExpired.HTTPStatus())
	assert.Equal(t, 404, CodeShareRevoked.HTTPStatus())
	assert.Equal(t, 401, CodeAuthRequired.HTTPStatus())
	assert.Equal(t, 500, CodeInternal.HTTPStatus())
}

func TestCodeOf(t *testing.T) {
	err := NewError(CodeRoomNotFound, "gamma1")
	assert.Equal(t, CodeRoomNotFound, CodeOf(err))
	assert.Equal(t, CodeInternal, CodeOf(assert.AnError))
	assert.Equal(t, Code(""), CodeOf(nil))
}
