package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sobun/chat/internal/model"
)

func TestChannelNameRoundTrip(t *testing.T) {
	ch := ChannelName("room-42")
	assert.Equal(t, "chat:room:room-42", ch)

	roomID, ok := RoomFromChannel(ch)
	require.True(t, ok)
	assert.Equal(t, "room-42", roomID)

	_, ok = RoomFromChannel("presence:room-42")
	assert.False(t, ok)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sent := &model.Message{
		ID:        "msg-1",
		RoomID:    "room-42",
		SenderID:  "user-7",
		Type:      model.MessageTypeText,
		Content:   "shipping together, who's in?",
		CreatedAt: time.Date(2026, 5, 1, 12, 30, 0, 0, time.UTC),
	}

	data, err := Encode(sent)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, sent, got)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	assert.Error(t, err)
}
