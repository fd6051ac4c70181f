package controlsocket

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := Message{Type: TypeGitFollowRequest, Payload: encode(GitFollowRequest{RepoPath: "/repo", Branch: "main", Enable: true})}
	require.NoError(t, WriteMessage(&buf, msg))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, msg.Type, got.Type)

	var req GitFollowRequest
	require.NoError(t, decode(got.Payload, &req))
	assert.Equal(t, "/repo", req.RepoPath)
	assert.Equal(t, "main", req.Branch)
	assert.True(t, req.Enable)
}

func TestWriteReadMessageEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, Message{Type: TypeStatusRequest}))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeStatusRequest, got.Type)
	assert.Empty(t, got.Payload)
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	header := []byte{0x7f, 0xff, 0xff, 0xff} // huge bogus length
	buf.Write(header)
	_, err := ReadMessage(&buf)
	assert.Error(t, err)
}

func TestReadMessageRejectsZeroLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})
	_, err := ReadMessage(&buf)
	assert.Error(t, err)
}

func TestMultipleMessagesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, Message{Type: TypeStatusRequest}))
	require.NoError(t, WriteMessage(&buf, Message{Type: TypeGitEventAck, Payload: encode(GitEventAck{Handled: true})}))

	first, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeStatusRequest, first.Type)

	second, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeGitEventAck, second.Type)
}
