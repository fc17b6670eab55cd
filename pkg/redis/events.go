package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	// VoteRelayedPattern matches the relayed-vote channel of every space.
	VoteRelayedPattern = "townsquare:*:vote.relayed"
	// VoteStream is the capped log of relayed votes.
	VoteStream = "townsquare:votes"
)

// VoteRelayedChannel is the channel a relayed vote in spaceID is announced on.
func VoteRelayedChannel(spaceID string) string {
	return fmt.Sprintf("townsquare:%s:vote.relayed", spaceID)
}

// VoteRelayed announces a vote accepted by the relayer.
type VoteRelayed struct {
	SpaceID    string `json:"spaceId"`
	ProposalID string `json:"proposalId"`
	Voter      string `json:"voter"`
	Choice     uint64 `json:"choice"`
	Power      string `json:"power"`
	TxHash     string `json:"txHash"`
	// Origin identifies the publishing instance so it can skip its own events.
	Origin string `json:"origin"`
}

// PublishVoteRelayed announces ev on its space channel and appends it to the vote stream.
func (c *Client) PublishVoteRelayed(ctx context.Context, ev VoteRelayed) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.logger.Warn("Failed to encode vote event", zap.Error(err))
		return
	}
	c.Publish(ctx, VoteRelayedChannel(ev.SpaceID), payload)
	c.XAdd(ctx, VoteStream, map[string]any{"data": payload, "spaceId": ev.SpaceID})
}

// SubscribeVoteRelayed delivers every relayed-vote event until ctx is cancelled.
// Undecodable payloads are logged and dropped.
func (c *Client) SubscribeVoteRelayed(ctx context.Context, fn func(VoteRelayed)) error {
	ps := c.PSubscribe(ctx, VoteRelayedPattern)
	defer ps.Close()

	// wait for the subscription to be confirmed so no event published after return is missed
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", VoteRelayedPattern, err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := DecodeVoteRelayed([]byte(msg.Payload))
			if err != nil {
				c.logger.Warn("Dropping malformed vote event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if ev.SpaceID == "" {
				ev.SpaceID = spaceFromChannel(msg.Channel)
			}
			fn(ev)
		}
	}
}

func DecodeVoteRelayed(b []byte) (VoteRelayed, error) {
	var ev VoteRelayed
	if err := json.Unmarshal(b, &ev); err != nil {
		return VoteRelayed{}, err
	}
	return ev, nil
}

func spaceFromChannel(ch string) string {
	parts := strings.Split(ch, ":")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}
