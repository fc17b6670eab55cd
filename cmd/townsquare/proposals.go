package main

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/models"
	"github.com/ufedojoa/townsquare/pkg/townsquare"
)

func (c *cli) proposalsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proposals",
		Short: "Read, create and execute proposals",
	}

	list := &cobra.Command{
		Use:   "list <spaceId>",
		Short: "List proposal summaries of a space",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, args []string) error {
			id, err := parseID(args[0], "space id")
			if err != nil {
				return err
			}
			skip, limit, err := pageFlags(cmd)
			if err != nil {
				return err
			}
			proposals, err := d.ListProposals(cmd.Context(), id, skip, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, proposals)
		}),
	}
	addPageFlags(list)

	get := &cobra.Command{
		Use:   "get <spaceId> <proposalId>",
		Short: "Show a proposal with its tally and state",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, args []string) error {
			spaceID, proposalID, err := parseIDs(args)
			if err != nil {
				return err
			}
			view, err := d.GetProposalView(cmd.Context(), spaceID, proposalID)
			if err != nil {
				return err
			}
			return printJSON(cmd, view)
		}),
	}

	outcome := &cobra.Command{
		Use:   "outcome <spaceId> <proposalId>",
		Short: "Show the winning choice and whether it was executed",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, args []string) error {
			spaceID, proposalID, err := parseIDs(args)
			if err != nil {
				return err
			}
			winner, err := d.WinningChoice(cmd.Context(), spaceID, proposalID)
			if err != nil {
				return err
			}
			executed, err := d.IsProposalExecuted(cmd.Context(), spaceID, proposalID)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"winningChoice": winner, "executed": executed})
		}),
	}

	execute := &cobra.Command{
		Use:   "execute <spaceId> <proposalId>",
		Short: "Execute the pass action of the winning choice",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, args []string) error {
			spaceID, proposalID, err := parseIDs(args)
			if err != nil {
				return err
			}
			winner, err := d.ExecuteProposal(cmd.Context(), spaceID, proposalID)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"winningChoice": winner, "executed": true})
		}),
	}

	cmd.AddCommand(list, get, outcome, execute, c.createProposalCommand())
	return cmd
}

func (c *cli) createProposalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <spaceId>",
		Short: "Create a proposal snapshotted at the current chain head",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, args []string) error {
			spaceID, err := parseID(args[0], "space id")
			if err != nil {
				return err
			}
			in, err := proposalInput(cmd, time.Now())
			if err != nil {
				return err
			}
			in.SpaceID = spaceID
			p, err := d.CreateProposal(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		}),
	}
	flags := cmd.Flags()
	flags.String("title", "", "Proposal title")
	flags.String("description", "", "Proposal description")
	flags.StringArray("choice", nil, "A choice; repeat for each (at least two)")
	flags.StringArray("executor", nil, "Pass-action executor for the choice at the same position; empty for none")
	flags.StringArray("data", nil, "32-byte pass-action payload for the choice at the same position")
	flags.Int64("start", 0, "Voting start as unix seconds (default now)")
	flags.Duration("duration", 72*time.Hour, "Voting period")
	return cmd
}

// proposalInput reads the create flags. Executors and payloads align with
// choices by position; a shorter list leaves the remaining choices without action.
func proposalInput(cmd *cobra.Command, now time.Time) (townsquare.ProposalInput, error) {
	var in townsquare.ProposalInput
	flags := cmd.Flags()
	in.Title, _ = flags.GetString("title")
	in.Description, _ = flags.GetString("description")
	in.Choices, _ = flags.GetStringArray("choice")
	executors, _ := flags.GetStringArray("executor")
	data, _ := flags.GetStringArray("data")
	start, _ := flags.GetInt64("start")
	duration, _ := flags.GetDuration("duration")

	if in.Title == "" {
		return in, apperr.New(apperr.CodeInvalidRequest, "--title is required")
	}
	if start <= 0 {
		start = now.Unix()
	}
	if duration <= 0 {
		return in, apperr.New(apperr.CodeInvalidRequest, "--duration must be positive")
	}
	in.Start = uint64(start)
	in.End = in.Start + uint64(duration/time.Second)

	n := max(len(executors), len(data))
	if n > len(in.Choices) {
		return in, apperr.New(apperr.CodeInvalidRequest, "more pass actions than choices")
	}
	for i := range n {
		action := models.ChoiceAction{Choice: in.Choices[i]}
		if i < len(executors) && executors[i] != "" {
			addr, err := parseAddress(executors[i])
			if err != nil {
				return in, err
			}
			action.Executor = &addr
		}
		if i < len(data) && data[i] != "" {
			b := common.FromHex(data[i])
			if len(b) > common.HashLength {
				return in, apperr.Newf(apperr.CodeInvalidRequest, "payload %d is longer than 32 bytes", i)
			}
			action.Data = common.BytesToHash(b)
		}
		in.Actions = append(in.Actions, action)
	}
	return in, nil
}
