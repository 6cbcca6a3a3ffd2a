package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrCobi/HemerotecaDigital-sub002/service/storage"
)

func newTestReceipts(store storage.MessageStore) (*Receipts, *Registry, *Rooms) {
	registry := NewRegistry()
	rooms := NewRooms()
	return NewReceipts(registry, rooms, NewFanout(2, 64), store), registry, rooms
}

func TestMarkReadRejectsMissingFields(t *testing.T) {
	store := newStubStore()
	store.byID["m1"] = &storage.Message{ID: "m1", SenderID: "u1"}
	rc, registry, _ := newTestReceipts(store)
	a := identifiedConn(t, registry, "u1")

	rc.MarkRead(context.Background(), &ReadMessageData{MessageID: "", UserID: "u2"})
	rc.MarkRead(context.Background(), &ReadMessageData{MessageID: "m1", UserID: ""})

	assert.False(t, store.byID["m1"].Read, "rejected requests never touch the store")
	requireNoFrame(t, a)
}

func TestMarkReadBroadcastsToRoom(t *testing.T) {
	store := newStubStore()
	store.byID["m1"] = &storage.Message{ID: "m1", SenderID: "u1", ConversationID: "7"}
	rc, registry, rooms := newTestReceipts(store)
	a := identifiedConn(t, registry, "u1")
	b := identifiedConn(t, registry, "u2")
	rooms.Join("7", "u1")
	rooms.Join("7", "u2")

	rc.MarkRead(context.Background(), &ReadMessageData{
		MessageID: "m1", ConversationID: "conv_7", UserID: "u2",
	})

	for _, c := range []*WsConn{a, b} {
		f := recvFrame(t, c)
		require.Equal(t, EventMessageRead, f.Event)
		data, err := DecodeData[MessageReadData](f)
		require.NoError(t, err)
		assert.Equal(t, "m1", data.MessageID)
		assert.Equal(t, "u2", data.ReadBy)
	}
	assert.True(t, store.byID["m1"].Read)
}

func TestMarkReadDirectNotifiesSenderOnly(t *testing.T) {
	store := newStubStore()
	store.byID["m1"] = &storage.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2"}
	rc, registry, _ := newTestReceipts(store)
	a := identifiedConn(t, registry, "u1")
	b := identifiedConn(t, registry, "u2")

	rc.MarkRead(context.Background(), &ReadMessageData{MessageID: "m1", UserID: "u2"})

	f := recvFrame(t, a)
	assert.Equal(t, EventMessageRead, f.Event)
	requireNoFrame(t, b)
	assert.True(t, store.byID["m1"].Read)
}

func TestMarkReadStoreFailureIsSilent(t *testing.T) {
	store := newStubStore() // 未知 messageId 会让 MarkRead 报错
	rc, registry, _ := newTestReceipts(store)
	a := identifiedConn(t, registry, "u1")

	rc.MarkRead(context.Background(), &ReadMessageData{MessageID: "missing", UserID: "u2"})

	requireNoFrame(t, a)
}
