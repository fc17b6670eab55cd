package main

import (
	"context"
	"errors"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/redis"
	"github.com/ufedojoa/townsquare/pkg/townsquare"
	"go.uber.org/zap"
)

func (c *cli) votesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "votes",
		Short: "Read, cast and follow votes",
	}

	list := &cobra.Command{
		Use:   "list <spaceId> <proposalId>",
		Short: "List votes in ledger order",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, args []string) error {
			spaceID, proposalID, err := parseIDs(args)
			if err != nil {
				return err
			}
			skip, limit, err := pageFlags(cmd)
			if err != nil {
				return err
			}
			votes, err := d.ListVotes(cmd.Context(), spaceID, proposalID, skip, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, votes)
		}),
	}
	addPageFlags(list)

	power := &cobra.Command{
		Use:   "power <spaceId> <proposalId> [address]",
		Short: "Show whole-token voting power at the proposal snapshot",
		Args:  cobra.RangeArgs(2, 3),
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, args []string) error {
			spaceID, proposalID, err := parseIDs(args)
			if err != nil {
				return err
			}
			holder, err := addressOrAccount(d, args, 2)
			if err != nil {
				return err
			}
			p, err := d.VotingPower(cmd.Context(), spaceID, proposalID, holder)
			if err != nil {
				return err
			}
			voted, err := d.HasVoted(cmd.Context(), spaceID, proposalID, holder)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"address": holder.Hex(), "power": p.String(), "voted": voted})
		}),
	}

	cast := &cobra.Command{
		Use:   "cast <spaceId> <proposalId> <choiceIndex>",
		Short: "Sign a vote and submit it through the relayer",
		Args:  cobra.ExactArgs(3),
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, args []string) error {
			spaceID, proposalID, err := parseIDs(args)
			if err != nil {
				return err
			}
			choice, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return apperr.Newf(apperr.CodeInvalidRequest, "invalid choice index %q", args[2])
			}
			hash, err := d.CastVote(cmd.Context(), spaceID, proposalID, choice)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"txHash": hash.Hex()})
		}),
	}

	cmd.AddCommand(list, power, cast, c.recentCommand(), c.tailCommand())
	return cmd
}

// tailCommand follows the relayer's vote stream. It talks to Redis only, so
// it does not dial the ledger.
func (c *cli) tailCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow votes relayed by any relayer instance (needs REDIS_*)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, _ := cmd.Flags().GetString("from")
			space, _ := cmd.Flags().GetString("space")
			limit, _ := cmd.Flags().GetInt("limit")

			client, err := redis.NewClient(cmd.Context(), c.logger)
			if err != nil {
				return err
			}
			defer client.Close()
			return tailVotes(cmd, client, from, space, limit, c.logger)
		},
	}
	cmd.Flags().String("from", "$", `Stream position: "0" for the whole log, "$" for new votes only`)
	cmd.Flags().String("space", "", "Only show votes in this space")
	cmd.Flags().Int("limit", 0, "Stop after this many votes (0 follows forever)")
	return cmd
}

func (c *cli) recentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the latest relayed votes, newest first (needs REDIS_*)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			count, _ := cmd.Flags().GetInt64("count")
			if count <= 0 {
				return apperr.New(apperr.CodeInvalidRequest, "--count must be positive")
			}
			client, err := redis.NewClient(cmd.Context(), c.logger)
			if err != nil {
				return err
			}
			defer client.Close()

			entries, err := client.XRevRange(cmd.Context(), redis.VoteStream, count)
			if err != nil {
				return err
			}
			out := make([]redis.VoteRelayed, 0, len(entries))
			for _, x := range entries {
				msg := redis.Message{ID: x.ID, Stream: redis.VoteStream, Values: x.Values}
				ev, err := redis.DecodeVoteRelayed(msg.Data())
				if err != nil {
					c.logger.Warn("Skipping undecodable vote entry", zap.String("id", x.ID), zap.Error(err))
					continue
				}
				out = append(out, ev)
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().Int64("count", 10, "How many votes to show")
	return cmd
}

var errTailDone = errors.New("tail limit reached")

func tailVotes(cmd *cobra.Command, client *redis.Client, from, space string, limit int, logger *zap.Logger) error {
	consumer, err := redis.NewStreamConsumer(client, redis.StreamConsumerConfig{
		Stream: redis.VoteStream,
		LastID: from,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(cmd.Context())
	defer cancel(nil)

	seen := 0
	err = consumer.Run(ctx, func(_ context.Context, msg redis.Message) error {
		if limit > 0 && seen >= limit {
			return nil
		}
		ev, err := redis.DecodeVoteRelayed(msg.Data())
		if err != nil {
			return err
		}
		if space != "" && ev.SpaceID != space {
			return nil
		}
		if err := printJSON(cmd, ev); err != nil {
			return err
		}
		seen++
		if limit > 0 && seen >= limit {
			cancel(errTailDone)
		}
		return nil
	})
	if errors.Is(context.Cause(ctx), errTailDone) {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
