package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	e := Envelope{
		Type:    "PING",
		Body:    "Hello!",
		Headers: map[string]string{"trace": "abc"},
	}
	raw, err := Marshal(e, "client:1234", "client-m1")
	require.NoError(t, err)

	got, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, "PING", got.Type)
	assert.Equal(t, "Hello!", got.Body)
	assert.Equal(t, "client:1234", got.Sender)
	assert.Equal(t, "client-m1", got.ID)
	assert.Equal(t, "abc", got.Headers["trace"])
}

func TestUnmarshalMalformed(t *testing.T) {
	_, err := Unmarshal([]byte(`not json`))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Unmarshal([]byte(`{"body":"x"}`))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestIsLocal(t *testing.T) {
	assert.True(t, Envelope{Sender: LocalSender}.IsLocal())
	assert.False(t, Envelope{Sender: "host:1"}.IsLocal())
}
