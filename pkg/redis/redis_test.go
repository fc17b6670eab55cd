package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	c, err := Connect(context.Background(), &redis.Options{Addr: srv.Addr()}, 100, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func TestConnectFailsFast(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	_, err := Connect(context.Background(), &redis.Options{Addr: addr, DialTimeout: 200 * time.Millisecond}, 0, nil)
	assert.Error(t, err)
}

func TestVoteRelayedRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan VoteRelayed, 1)
	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = c.SubscribeVoteRelayed(ctx, func(ev VoteRelayed) {
			select {
			case got <- ev:
			default:
			}
		})
	}()
	<-ready

	ev := VoteRelayed{SpaceID: "7", ProposalID: "2", Voter: "0xabc", Choice: 1, Power: "5", TxHash: "0x01", Origin: "a"}
	// retry until the subscriber is listening
	require.Eventually(t, func() bool {
		c.PublishVoteRelayed(ctx, ev)
		select {
		case recv := <-got:
			assert.Equal(t, ev, recv)
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	entries, err := c.XRevRange(ctx, VoteStream, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	var logged VoteRelayed
	msg := Message{Values: entries[0].Values}
	require.NoError(t, json.Unmarshal(msg.Data(), &logged))
	assert.Equal(t, "0x01", logged.TxHash)
}

func TestStreamConsumerDeliversInOrder(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, tx := range []string{"0x01", "0x02"} {
		require.NotEmpty(t, c.XAdd(ctx, VoteStream, map[string]any{"data": tx}))
	}

	sc, err := NewStreamConsumer(c, StreamConsumerConfig{Stream: VoteStream, LastID: "0", Block: 100 * time.Millisecond})
	require.NoError(t, err)

	var seen []string
	runCtx, stop := context.WithCancel(ctx)
	err = sc.Run(runCtx, func(_ context.Context, m Message) error {
		seen = append(seen, string(m.Data()))
		if len(seen) == 2 {
			stop()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"0x01", "0x02"}, seen)
}

func TestStreamConsumerConfigValidation(t *testing.T) {
	_, err := NewStreamConsumer(nil, StreamConsumerConfig{Stream: "s"})
	assert.Error(t, err)

	c, _ := newTestClient(t)
	_, err = NewStreamConsumer(c, StreamConsumerConfig{})
	assert.Error(t, err)
}

func TestChannelNaming(t *testing.T) {
	ch := VoteRelayedChannel("12")
	assert.Equal(t, "townsquare:12:vote.relayed", ch)
	assert.Equal(t, "12", spaceFromChannel(ch))
	assert.Equal(t, "", spaceFromChannel("garbage"))
}

func TestHealth(t *testing.T) {
	c, srv := newTestClient(t)
	require.NoError(t, c.Health(context.Background()))
	srv.Close()
	assert.Error(t, c.Health(context.Background()))
}
