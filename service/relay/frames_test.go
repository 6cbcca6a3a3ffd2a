package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"event":"send_message","data":{"content":"hi","senderId":"u1"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventSendMessage, f.Event)

	payload, err := DecodeData[SendMessageData](f)
	require.NoError(t, err)
	assert.Equal(t, "hi", payload.Content)
	assert.Equal(t, "u1", payload.SenderID)
}

func TestParseFrameRejectsGarbage(t *testing.T) {
	_, err := ParseFrame([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseFrame([]byte(`{"data":{}}`))
	assert.Error(t, err, "event is mandatory")
}

func TestDecodeDataToleratesMissingPayload(t *testing.T) {
	f, err := ParseFrame([]byte(`{"event":"heartbeat"}`))
	require.NoError(t, err)

	hb, err := DecodeData[HeartbeatData](f)
	require.NoError(t, err)
	assert.Zero(t, hb.Timestamp)
}

func TestBuildAckRoundTrip(t *testing.T) {
	f, err := ParseFrame(BuildAck("m1", "t1", AckSent, ""))
	require.NoError(t, err)
	require.Equal(t, EventMessageAck, f.Event)

	ack, err := DecodeData[AckData](f)
	require.NoError(t, err)
	assert.Equal(t, "m1", ack.MessageID)
	assert.Equal(t, "t1", ack.TempID)
	assert.Equal(t, AckSent, ack.Status)
	assert.Empty(t, ack.Error)
}

func TestBuildUsersOnlineNeverNull(t *testing.T) {
	f, err := ParseFrame(BuildUsersOnline(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"users":[]}`, string(f.Data), "empty list, not null")
}
