package realtime

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	id  string
	cap int

	mu  sync.Mutex
	got []Envelope
}

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Deliver(env Envelope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cap > 0 && len(f.got) >= f.cap {
		return false
	}
	f.got = append(f.got, env)
	return true
}

func (f *fakeSub) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.got))
	for _, e := range f.got {
		out = append(out, string(e.Namespace)+"|"+e.Room+"|"+e.Event)
	}
	return out
}

func TestRoomNames(t *testing.T) {
	assert.Equal(t, "conversation:c1", ConversationRoom("c1"))
	assert.Equal(t, "channel:ch1", ChannelRoom("ch1"))
}

func TestHub_JoinLeaveDeliver(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a := &fakeSub{id: "a"}
	b := &fakeSub{id: "b"}

	h.Join(NamespaceWidget, "conversation:c1", a)
	h.Join(NamespaceWidget, "conversation:c1", a) // idempotent
	h.Join(NamespaceWidget, "conversation:c1", b)
	assert.Equal(t, 2, h.Members(NamespaceWidget, "conversation:c1"))
	assert.Equal(t, 0, h.Members(NamespaceOperator, "conversation:c1"), "namespaces are separate")

	n := h.Deliver(Envelope{Namespace: NamespaceWidget, Room: "conversation:c1", Event: "message:new", ExceptConn: "a"})
	assert.Equal(t, 1, n)
	assert.Empty(t, a.events())
	assert.Equal(t, []string{"widget|conversation:c1|message:new"}, b.events())

	h.Leave(NamespaceWidget, "conversation:c1", "b")
	assert.False(t, h.InRoom(NamespaceWidget, "conversation:c1", "b"))
	assert.True(t, h.InRoom(NamespaceWidget, "conversation:c1", "a"))
}

func TestHub_LeaveAll(t *testing.T) {
	h := NewHub(zerolog.Nop())
	op := &fakeSub{id: "op"}
	h.Join(NamespaceOperator, ChannelRoom("ch1"), op)
	h.Join(NamespaceOperator, ConversationRoom("c1"), op)

	h.LeaveAll("op")
	assert.Equal(t, 0, h.Members(NamespaceOperator, ChannelRoom("ch1")))
	assert.Equal(t, 0, h.Members(NamespaceOperator, ConversationRoom("c1")))
	assert.Equal(t, 0, h.Deliver(Envelope{Namespace: NamespaceOperator, Room: ChannelRoom("ch1"), Event: "x"}))
}

func TestHub_FullBufferDrops(t *testing.T) {
	h := NewHub(zerolog.Nop())
	slow := &fakeSub{id: "slow", cap: 1}
	h.Join(NamespaceWidget, "r", slow)

	assert.Equal(t, 1, h.Deliver(Envelope{Namespace: NamespaceWidget, Room: "r", Event: "one"}))
	assert.Equal(t, 0, h.Deliver(Envelope{Namespace: NamespaceWidget, Room: "r", Event: "two"}))
	assert.Len(t, slow.events(), 1)
}

func TestBroadcaster_ConversationReachesBothNamespaces(t *testing.T) {
	h := NewHub(zerolog.Nop())
	bc := NewBroadcaster(NewLocalBus(h))
	visitor := &fakeSub{id: "v"}
	operator := &fakeSub{id: "o"}
	h.Join(NamespaceWidget, ConversationRoom("c1"), visitor)
	h.Join(NamespaceOperator, ConversationRoom("c1"), operator)
	h.Join(NamespaceOperator, ChannelRoom("ch1"), operator)

	require.NoError(t, bc.ToConversation(context.Background(), "c1", "call:ring", map[string]string{"callId": "k"}, ""))
	require.NoError(t, bc.ToChannelOperators(context.Background(), "ch1", "presence:update", map[string]int{"onlineVisitors": 2}, ""))

	assert.Equal(t, []string{"widget|conversation:c1|call:ring"}, visitor.events())
	assert.Equal(t, []string{"operator|conversation:c1|call:ring", "operator|channel:ch1|presence:update"}, operator.events())

	var body map[string]string
	require.NoError(t, json.Unmarshal(visitor.got[0].Data, &body))
	assert.Equal(t, "k", body["callId"])
}

func TestBroadcaster_MarshalError(t *testing.T) {
	bc := NewBroadcaster(NewLocalBus(NewHub(zerolog.Nop())))
	err := bc.ToConversation(context.Background(), "c1", "x", make(chan int), "")
	assert.Error(t, err)
}

func TestRedisBus_ForwardsToHub(t *testing.T) {
	url := os.Getenv("SITECHAT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SITECHAT_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })

	h := NewHub(zerolog.Nop())
	sub := &fakeSub{id: "s"}
	h.Join(NamespaceWidget, "conversation:c1", sub)

	bus, err := NewRedisBus(rdb, "test:"+uuid.NewString(), h, zerolog.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bus.Start(ctx))

	require.NoError(t, bus.Publish(ctx, Envelope{Namespace: NamespaceWidget, Room: "conversation:c1", Event: "message:new"}))
	require.Eventually(t, func() bool { return len(sub.events()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestNewRedisBus_Validates(t *testing.T) {
	_, err := NewRedisBus(nil, "x", NewHub(zerolog.Nop()), zerolog.Nop())
	assert.Error(t, err)
}
