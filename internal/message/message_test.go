package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdentity(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	env := NewIdentity("abc", now)

	data, err := Encode(env)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "id", raw["type"])
	assert.Equal(t, "abc", raw["clientKey"])
	assert.Equal(t, "", raw["text"])
	assert.Equal(t, float64(1700000000123), raw["date"])
	assert.NotContains(t, raw, "msgId")
}

func TestDecodeMalformed(t *testing.T) {
	for _, in := range []string{"", "not json", `{"type":`, `["a"]`} {
		_, err := Decode([]byte(in))
		assert.ErrorIs(t, err, ErrMalformed, "input %q", in)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	env, err := Decode([]byte(`{"type":"typing","text":"x"}`))
	require.NoError(t, err)
	assert.False(t, env.Known())
	assert.Equal(t, Type("typing"), env.Type)
}

func TestForRebroadcastClearsClientKey(t *testing.T) {
	in, err := Decode([]byte(`{"type":"message","text":"hello","clientKey":"sender-1","date":42,"msgId":7}`))
	require.NoError(t, err)

	out := in.ForRebroadcast(time.Now())
	data, err := Encode(out)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "message", raw["type"])
	assert.Equal(t, "hello", raw["text"])
	assert.Equal(t, "", raw["clientKey"])
	assert.Equal(t, float64(42), raw["date"])
	assert.Equal(t, float64(7), raw["msgId"])

	// the original is left alone
	assert.Equal(t, "sender-1", in.ClientKey)
}

func TestForRebroadcastStampsMissingDate(t *testing.T) {
	now := time.UnixMilli(1234)

	env, err := Decode([]byte(`{"type":"message","text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1234), env.ForRebroadcast(now).Date)
}

func TestEmptyTextPolicy(t *testing.T) {
	p, err := ParseEmptyTextPolicy(" DROP ")
	require.NoError(t, err)
	assert.Equal(t, EmptyTextDrop, p)
	assert.ErrorIs(t, p.CheckText(""), ErrEmptyText)
	assert.ErrorIs(t, p.CheckText("  \n"), ErrEmptyText)
	assert.NoError(t, p.CheckText("x"))

	p, err = ParseEmptyTextPolicy("relay")
	require.NoError(t, err)
	assert.NoError(t, p.CheckText(""))

	_, err = ParseEmptyTextPolicy("maybe")
	assert.Error(t, err)
}

func TestForRebroadcastKeepsOnlyEnvelopeFields(t *testing.T) {
	in, err := Decode([]byte(`{"type":"message","text":"hi","date":9,"color":"red","meta":{"a":1}}`))
	require.NoError(t, err)

	data, err := Encode(in.ForRebroadcast(time.Now()))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.ElementsMatch(t, []string{"type", "text", "clientKey", "date"}, keys(raw))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
