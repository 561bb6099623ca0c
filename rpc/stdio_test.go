package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdioServerServesLines(t *testing.T) {
	d := newTestDispatcher(t)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","method":"init_voice_calls","id":1}`,
		``,
		`{"jsonrpc":"2.0","method":"start_voice_call","params":{"peer":"peer-A"},"id":2}`,
		`{"jsonrpc":"2.0","method":"get_active_voice_calls","id":3}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	server, err := NewStdioServer(d, strings.NewReader(input), &out)
	require.NoError(t, err)

	require.NoError(t, server.Serve(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3, "blank input lines are skipped")

	var first Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Nil(t, first.Error)
	assert.Equal(t, json.RawMessage(`1`), first.ID)

	var second Response
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Nil(t, second.Error)

	var third Response
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &third))
	assert.Nil(t, third.Error)
}

func TestStdioServerMalformedLine(t *testing.T) {
	d := newTestDispatcher(t)

	var out bytes.Buffer
	server, err := NewStdioServer(d, strings.NewReader("{bad json}\n"), &out)
	require.NoError(t, err)
	require.NoError(t, server.Serve(context.Background()))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
}

func TestNewStdioServerValidation(t *testing.T) {
	d := newTestDispatcher(t)

	_, err := NewStdioServer(nil, strings.NewReader(""), &bytes.Buffer{})
	assert.Error(t, err)

	_, err = NewStdioServer(d, nil, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = NewStdioServer(d, strings.NewReader(""), nil)
	assert.Error(t, err)
}
