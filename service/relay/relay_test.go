package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrCobi/HemerotecaDigital-sub002/service/storage"
)

// ===== test doubles =====

type stubStore struct {
	mu          sync.Mutex
	byID        map[string]*storage.Message
	byToken     map[string]*storage.Message
	failCreate  bool
	failLookup  bool
	createCalls int
}

func newStubStore() *stubStore {
	return &stubStore{
		byID:    make(map[string]*storage.Message),
		byToken: make(map[string]*storage.Message),
	}
}

func (s *stubStore) FindByTokenOrID(_ context.Context, token, id string) (*storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLookup {
		return nil, assert.AnError
	}
	if token != "" {
		if m, ok := s.byToken[token]; ok {
			return m, nil
		}
	}
	if id != "" {
		if m, ok := s.byID[id]; ok {
			return m, nil
		}
	}
	return nil, nil
}

func (s *stubStore) Create(_ context.Context, m *storage.Message) (*storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.failCreate {
		return nil, assert.AnError
	}
	cp := *m
	s.byID[cp.ID] = &cp
	if cp.TempID != "" {
		s.byToken[cp.TempID] = &cp
	}
	return &cp, nil
}

func (s *stubStore) MarkRead(_ context.Context, id string) (*storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, assert.AnError
	}
	m.Read = true
	return m, nil
}

func (s *stubStore) FindByID(_ context.Context, id string) (*storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.byID[id]; ok {
		return m, nil
	}
	return nil, nil
}

func (s *stubStore) persisted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// recvFrame waits for the next frame on the connection's send queue.
func recvFrame(t *testing.T, c *WsConn) *Frame {
	t.Helper()
	select {
	case raw, ok := <-c.Send:
		require.True(t, ok, "send queue closed")
		f, err := ParseFrame(raw)
		require.NoError(t, err)
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func requireNoFrame(t *testing.T, c *WsConn) {
	t.Helper()
	select {
	case raw := <-c.Send:
		f, _ := ParseFrame(raw)
		t.Fatalf("unexpected frame: %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

// newTestRelay wires a relay with a synchronous-enough fanout for tests.
func newTestRelay(store storage.MessageStore) (*Relay, *Registry, *Rooms) {
	registry := NewRegistry()
	rooms := NewRooms()
	fanout := NewFanout(2, 64)
	return NewRelay(registry, rooms, fanout, store), registry, rooms
}

func identifiedConn(t *testing.T, registry *Registry, userID string) *WsConn {
	t.Helper()
	c := NewWsConn("conn-"+userID, nil, 32)
	registry.Track(c)
	_, err := registry.Bind(c, userID, userID)
	require.NoError(t, err)
	return c
}

// ===== tests =====

func TestSendPersistsAcksAndEchoes(t *testing.T) {
	store := newStubStore()
	r, registry, _ := newTestRelay(store)
	a := identifiedConn(t, registry, "u1")

	r.Send(context.Background(), a, &SendMessageData{
		TempID: "t1", Content: "hola", SenderID: "u1", ReceiverID: "u3",
	})

	ack := recvFrame(t, a)
	require.Equal(t, EventMessageAck, ack.Event)
	ackData, err := DecodeData[AckData](ack)
	require.NoError(t, err)
	assert.Equal(t, AckSent, ackData.Status)
	assert.Equal(t, "t1", ackData.TempID)
	assert.NotEmpty(t, ackData.MessageID)

	echo := recvFrame(t, a)
	require.Equal(t, EventNewMessage, echo.Event)
	msg, err := DecodeData[storage.Message](echo)
	require.NoError(t, err)
	assert.Equal(t, "hola", msg.Content)
	assert.Equal(t, storage.MessageText, msg.MessageType)

	assert.Equal(t, 1, store.persisted())
}

func TestSendIdempotentAcrossRetry(t *testing.T) {
	store := newStubStore()
	r, registry, _ := newTestRelay(store)
	a := identifiedConn(t, registry, "u1")

	req := &SendMessageData{TempID: "t1", Content: "hi", SenderID: "u1"}
	r.Send(context.Background(), a, req)

	ack1, err := DecodeData[AckData](recvFrame(t, a))
	require.NoError(t, err)
	recvFrame(t, a) // echo

	// 模拟断线重连后的原样重试
	a2 := identifiedConn(t, registry, "u1")
	r.Send(context.Background(), a2, req)

	ack2, err := DecodeData[AckData](recvFrame(t, a2))
	require.NoError(t, err)
	recvFrame(t, a2) // echo of the existing record

	assert.Equal(t, 1, store.persisted(), "retry must not create a duplicate row")
	assert.Equal(t, 1, store.createCalls)
	assert.Equal(t, ack1.MessageID, ack2.MessageID, "both acks reference the same final id")
}

func TestRoomFanoutExcludesSenderAndNonMembers(t *testing.T) {
	store := newStubStore()
	r, registry, rooms := newTestRelay(store)
	a := identifiedConn(t, registry, "u1")
	b := identifiedConn(t, registry, "u2")
	c := identifiedConn(t, registry, "u3")

	rooms.Join("7", "u1")
	rooms.Join("7", "u2")

	r.Send(context.Background(), a, &SendMessageData{
		TempID: "t1", Content: "hi room", SenderID: "u1", ConversationID: "conv_7",
	})

	recvFrame(t, a) // ack
	recvFrame(t, a) // self echo

	got := recvFrame(t, b)
	require.Equal(t, EventNewMessage, got.Event)
	msg, err := DecodeData[storage.Message](got)
	require.NoError(t, err)
	assert.Equal(t, "u1", msg.SenderID)

	requireNoFrame(t, a) // sender got no room copy
	requireNoFrame(t, c) // non-member got nothing
}

func TestRetryDoesNotRebroadcastToRoom(t *testing.T) {
	store := newStubStore()
	r, registry, rooms := newTestRelay(store)
	a := identifiedConn(t, registry, "u1")
	b := identifiedConn(t, registry, "u2")
	rooms.Join("7", "u1")
	rooms.Join("7", "u2")

	req := &SendMessageData{TempID: "t1", Content: "hi", SenderID: "u1", ConversationID: "conv_7"}
	r.Send(context.Background(), a, req)
	recvFrame(t, a)
	recvFrame(t, a)
	recvFrame(t, b) // first copy

	r.Send(context.Background(), a, req) // network-blip retry
	recvFrame(t, a)                      // ack (same id)
	recvFrame(t, a)                      // echo

	requireNoFrame(t, b)
	assert.Equal(t, 1, store.persisted())
}

func TestDirectDeliveryWhenReceiverOnline(t *testing.T) {
	store := newStubStore()
	r, registry, _ := newTestRelay(store)
	a := identifiedConn(t, registry, "u1")
	b := identifiedConn(t, registry, "u2")

	r.Send(context.Background(), a, &SendMessageData{
		Content: "dm", SenderID: "u1", ReceiverID: "u2",
	})

	recvFrame(t, a)
	recvFrame(t, a)
	got := recvFrame(t, b)
	assert.Equal(t, EventNewMessage, got.Event)
}

func TestDirectReceiverOfflineJustPersists(t *testing.T) {
	store := newStubStore()
	r, registry, _ := newTestRelay(store)
	a := identifiedConn(t, registry, "u1")

	r.Send(context.Background(), a, &SendMessageData{
		TempID: "t9", Content: "dm", SenderID: "u1", ReceiverID: "u3",
	})

	ack, err := DecodeData[AckData](recvFrame(t, a))
	require.NoError(t, err)
	assert.Equal(t, AckSent, ack.Status)
	recvFrame(t, a) // self echo still happens

	assert.Equal(t, 1, store.persisted())
	requireNoFrame(t, a)
}

func TestSendRejectsSenderMismatch(t *testing.T) {
	store := newStubStore()
	r, registry, _ := newTestRelay(store)
	a := identifiedConn(t, registry, "u1")

	r.Send(context.Background(), a, &SendMessageData{TempID: "t1", Content: "x", SenderID: "u2"})

	ack, err := DecodeData[AckData](recvFrame(t, a))
	require.NoError(t, err)
	assert.Equal(t, AckFailed, ack.Status)
	assert.Equal(t, "t1", ack.TempID)
	assert.Zero(t, store.persisted())
}

func TestSendRejectsUnidentifiedConnection(t *testing.T) {
	store := newStubStore()
	r, registry, _ := newTestRelay(store)
	c := NewWsConn("anon", nil, 8)
	registry.Track(c)

	r.Send(context.Background(), c, &SendMessageData{Content: "x", SenderID: "u1"})

	ack, err := DecodeData[AckData](recvFrame(t, c))
	require.NoError(t, err)
	assert.Equal(t, AckFailed, ack.Status)
}

func TestPersistFailureYieldsFailedAckOnly(t *testing.T) {
	store := newStubStore()
	store.failCreate = true
	r, registry, rooms := newTestRelay(store)
	a := identifiedConn(t, registry, "u1")
	b := identifiedConn(t, registry, "u2")
	rooms.Join("7", "u1")
	rooms.Join("7", "u2")

	r.Send(context.Background(), a, &SendMessageData{
		TempID: "t1", Content: "x", SenderID: "u1", ConversationID: "conv_7",
	})

	ack, err := DecodeData[AckData](recvFrame(t, a))
	require.NoError(t, err)
	assert.Equal(t, AckFailed, ack.Status)
	assert.Equal(t, "t1", ack.TempID, "failed ack carries the token for client correlation")

	requireNoFrame(t, a) // no echo
	requireNoFrame(t, b) // no partial fan-out
}

func TestSendRejectsUnknownMessageType(t *testing.T) {
	store := newStubStore()
	r, registry, _ := newTestRelay(store)
	a := identifiedConn(t, registry, "u1")

	r.Send(context.Background(), a, &SendMessageData{
		TempID: "t1", Content: "x", SenderID: "u1", MessageType: "hologram",
	})

	ack, err := DecodeData[AckData](recvFrame(t, a))
	require.NoError(t, err)
	assert.Equal(t, AckFailed, ack.Status)
	assert.Zero(t, store.persisted())
}

func TestDispatchExistingSkipsPersistence(t *testing.T) {
	store := newStubStore()
	r, registry, rooms := newTestRelay(store)
	a := identifiedConn(t, registry, "u1")
	b := identifiedConn(t, registry, "u2")
	rooms.Join("7", "u1")
	rooms.Join("7", "u2")

	r.DispatchExisting(&storage.Message{
		ID: "ext-1", Content: "from api", SenderID: "u1",
		ConversationID: "conv_7", MessageType: storage.MessageText,
	})

	echo := recvFrame(t, a)
	assert.Equal(t, EventNewMessage, echo.Event)
	got := recvFrame(t, b)
	assert.Equal(t, EventNewMessage, got.Event)

	assert.Zero(t, store.createCalls, "webhook path never writes the store")
}
