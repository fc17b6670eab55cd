package main

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/ufedojoa/townsquare/pkg/apperr"
	"github.com/ufedojoa/townsquare/pkg/townsquare"
)

func (c *cli) spacesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spaces",
		Short: "Read and manage spaces",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List spaces",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, _ []string) error {
			skip, limit, err := pageFlags(cmd)
			if err != nil {
				return err
			}
			spaces, err := d.ListSpaces(cmd.Context(), skip, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, spaces)
		}),
	}
	addPageFlags(list)

	get := &cobra.Command{
		Use:   "get <spaceId>",
		Short: "Show a space with its admins",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, args []string) error {
			id, err := parseID(args[0], "space id")
			if err != nil {
				return err
			}
			space, err := d.GetSpace(cmd.Context(), id)
			if err != nil {
				return err
			}
			if space.Admins, err = d.LoadSpaceAdmins(cmd.Context(), id); err != nil {
				return err
			}
			return printJSON(cmd, space)
		}),
	}

	settings := &cobra.Command{
		Use:   "settings <spaceId>",
		Short: "Show who may create proposals in a space",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, args []string) error {
			id, err := parseID(args[0], "space id")
			if err != nil {
				return err
			}
			s, err := d.GetSpaceSettings(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		}),
	}

	mine := &cobra.Command{
		Use:   "member-of [address]",
		Short: "List the spaces an address belongs to (default: the signing account)",
		Args:  cobra.MaximumNArgs(1),
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, args []string) error {
			user, err := addressOrAccount(d, args, 0)
			if err != nil {
				return err
			}
			spaces, err := d.ListUserSpaces(cmd.Context(), user)
			if err != nil {
				return err
			}
			return printJSON(cmd, spaces)
		}),
	}

	role := &cobra.Command{
		Use:   "role <spaceId> [address]",
		Short: "Report whether an address is a member or admin of a space",
		Args:  cobra.RangeArgs(1, 2),
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, args []string) error {
			id, err := parseID(args[0], "space id")
			if err != nil {
				return err
			}
			user, err := addressOrAccount(d, args, 1)
			if err != nil {
				return err
			}
			member, err := d.IsSpaceMember(cmd.Context(), id, user)
			if err != nil {
				return err
			}
			admin, err := d.IsSpaceAdmin(cmd.Context(), id, user)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"address": user.Hex(), "member": member, "admin": admin})
		}),
	}

	fee := &cobra.Command{
		Use:   "fee",
		Short: "Show the current space creation fee in wei",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, _ []string) error {
			wei, err := d.CreationFee(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"fee": wei.String()})
		}),
	}

	cmd.AddCommand(list, get, settings, mine, role, fee,
		c.createSpaceCommand(), c.updateSpaceCommand(), c.membershipCommand("join"), c.membershipCommand("leave"),
		c.setAdminsCommand(), c.thresholdCommand(), c.redeemCommand())
	return cmd
}

func addSpaceInputFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "Space name (at most 32 bytes)")
	cmd.Flags().String("description", "", "Space description")
	cmd.Flags().String("token", "", "Governance token address")
	cmd.Flags().String("avatar", "", "Avatar (at most 32 bytes)")
	cmd.Flags().String("website", "", "Website (at most 32 bytes)")
}

func spaceInput(cmd *cobra.Command) (townsquare.SpaceInput, error) {
	var in townsquare.SpaceInput
	flags := cmd.Flags()
	in.Name, _ = flags.GetString("name")
	in.Description, _ = flags.GetString("description")
	in.Avatar, _ = flags.GetString("avatar")
	in.Website, _ = flags.GetString("website")
	token, _ := flags.GetString("token")
	if in.Name == "" {
		return in, apperr.New(apperr.CodeInvalidRequest, "--name is required")
	}
	addr, err := parseAddress(token)
	if err != nil {
		return in, err
	}
	in.Token = addr
	return in, nil
}

func (c *cli) createSpaceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a space, paying the creation fee",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, _ []string) error {
			in, err := spaceInput(cmd)
			if err != nil {
				return err
			}
			space, err := d.CreateSpace(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd, space)
		}),
	}
	addSpaceInputFlags(cmd)
	return cmd
}

func (c *cli) updateSpaceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <spaceId>",
		Short: "Replace a space's name, description, token, avatar and website",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, args []string) error {
			id, err := parseID(args[0], "space id")
			if err != nil {
				return err
			}
			in, err := spaceInput(cmd)
			if err != nil {
				return err
			}
			if err := d.UpdateSpace(cmd.Context(), id, in); err != nil {
				return err
			}
			space, err := d.GetSpace(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, space)
		}),
	}
	addSpaceInputFlags(cmd)
	return cmd
}

func (c *cli) membershipCommand(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <spaceId>",
		Short: "Make the signing account " + action + " a space",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, args []string) error {
			id, err := parseID(args[0], "space id")
			if err != nil {
				return err
			}
			if action == "join" {
				err = d.JoinSpace(cmd.Context(), id)
			} else {
				err = d.LeaveSpace(cmd.Context(), id)
			}
			if err != nil {
				return err
			}
			member, err := d.IsSpaceMember(cmd.Context(), id, d.Account())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"spaceId": id.String(), "member": member})
		}),
	}
}

func (c *cli) setAdminsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-admins <spaceId> <address>...",
		Short: "Replace the admin list of a space",
		Args:  cobra.MinimumNArgs(2),
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, args []string) error {
			id, err := parseID(args[0], "space id")
			if err != nil {
				return err
			}
			admins := make([]common.Address, 0, len(args)-1)
			for _, raw := range args[1:] {
				a, err := parseAddress(raw)
				if err != nil {
					return err
				}
				admins = append(admins, a)
			}
			if err := d.SetSpaceAdmins(cmd.Context(), id, admins); err != nil {
				return err
			}
			out, err := d.LoadSpaceAdmins(cmd.Context(), id, townsquare.WithRecache())
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		}),
	}
}

func (c *cli) thresholdCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threshold <spaceId> <amount>",
		Short: "Set the token balance needed to create proposals",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, args []string) error {
			id, err := parseID(args[0], "space id")
			if err != nil {
				return err
			}
			threshold, err := parseID(args[1], "threshold")
			if err != nil {
				return err
			}
			onlyAdmins, _ := cmd.Flags().GetBool("only-admins")
			if err := d.UpdateProposalThreshold(cmd.Context(), id, threshold, onlyAdmins); err != nil {
				return err
			}
			s, err := d.GetSpaceSettings(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		}),
	}
	cmd.Flags().Bool("only-admins", false, "Restrict proposal creation to admins")
	return cmd
}

func (c *cli) redeemCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "redeem-fee <spaceId>",
		Short: "Redeem the space creation fee once the lockup has passed",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, d *townsquare.Client, args []string) error {
			id, err := parseID(args[0], "space id")
			if err != nil {
				return err
			}
			if err := d.RedeemCreationFee(cmd.Context(), id); err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"spaceId": id.String(), "redeemed": true})
		}),
	}
}
