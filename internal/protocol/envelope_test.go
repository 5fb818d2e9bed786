// ABOUTME: Tests for envelope parsing and reply constructors.
// ABOUTME: Covers malformed frames, missing types, and text extraction fallbacks.

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Valid(t *testing.T) {
	raw := []byte(`{"type":"user_request","instanceId":"i1","requestedAgent":"sherlock","originalMessage":"review this"}`)

	env, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeUserRequest, env.Type)
	assert.Equal(t, "i1", env.InstanceID)
	assert.Equal(t, "sherlock", env.RequestedAgent)
	assert.Equal(t, "review this", env.OriginalMessage)
}

func TestParse_MalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	require.Error(t, err)
}

func TestParse_MissingType(t *testing.T) {
	_, err := Parse([]byte(`{"instanceId":"i1"}`))
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestParse_UnknownTypeIsNotAParseError(t *testing.T) {
	// Classification of unknown types happens in dispatch, not parsing.
	env, err := Parse([]byte(`{"type":"something_new"}`))
	require.NoError(t, err)
	assert.Equal(t, "something_new", env.Type)
}

func TestEnvelope_Text(t *testing.T) {
	t.Run("prefers originalMessage", func(t *testing.T) {
		env := &Envelope{OriginalMessage: "first", Message: "second"}
		assert.Equal(t, "first", env.Text())
	})

	t.Run("falls back to message", func(t *testing.T) {
		env := &Envelope{Message: "second"}
		assert.Equal(t, "second", env.Text())
	})

	t.Run("falls back to payload message", func(t *testing.T) {
		env := &Envelope{Payload: map[string]any{"message": "third"}}
		assert.Equal(t, "third", env.Text())
	})

	t.Run("empty when nothing set", func(t *testing.T) {
		env := &Envelope{}
		assert.Equal(t, "", env.Text())
	})
}

func TestTimeoutReply_Labeled(t *testing.T) {
	env := TimeoutReply("alex", "i1", "delegation failed")
	assert.Equal(t, TypeAgentResponseReply, env.Type)
	assert.True(t, env.TimedOut)
	assert.Equal(t, "alex", env.Agent)
}

func TestSubRequest_CarriesRequestID(t *testing.T) {
	env := SubRequest("req-1", "sherlock", "i1", "check this")
	assert.Equal(t, TypeAgentRequest, env.Type)
	assert.Equal(t, "req-1", env.RequestID)
	assert.Equal(t, "sherlock", env.Agent)
	assert.Equal(t, "check this", env.OriginalMessage)
	assert.NotEmpty(t, env.Timestamp)
}
