package controller

import (
	"net/http"
	"time"

	"github.com/ufedojoa/townsquare/pkg/models"
)

func (c *Controller) HandleProposals(w http.ResponseWriter, r *http.Request) {
	spaceID, err := pathID(r, "spaceId")
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	page, err := parsePageSpec(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	proposals, err := c.App.Domain.ListProposals(r.Context(), spaceID, page.Skip, page.Limit)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	now := time.Now()
	views := make([]models.ProposalView, len(proposals))
	for i, p := range proposals {
		views[i] = models.ProposalView{Proposal: p, State: p.StateAt(now)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": views, "skip": page.Skip, "limit": page.Limit})
}

func (c *Controller) HandleProposal(w http.ResponseWriter, r *http.Request) {
	spaceID, proposalID, err := pathIDs(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	view, err := c.App.Domain.GetProposalView(r.Context(), spaceID, proposalID)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleOutcome reports whether a proposal was executed and which choice leads.
func (c *Controller) HandleOutcome(w http.ResponseWriter, r *http.Request) {
	spaceID, proposalID, err := pathIDs(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	executed, err := c.App.Domain.IsProposalExecuted(ctx, spaceID, proposalID)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	winner, err := c.App.Domain.WinningChoice(ctx, spaceID, proposalID)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executed": executed, "winningChoice": winner})
}

func (c *Controller) HandleVotes(w http.ResponseWriter, r *http.Request) {
	spaceID, proposalID, err := pathIDs(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	page, err := parsePageSpec(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	votes, err := c.App.Domain.ListVotes(r.Context(), spaceID, proposalID, page.Skip, page.Limit)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"votes": votes, "skip": page.Skip, "limit": page.Limit})
}

func (c *Controller) HandleHasVoted(w http.ResponseWriter, r *http.Request) {
	spaceID, proposalID, err := pathIDs(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	user, err := pathAddress(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	voted, err := c.App.Domain.HasVoted(r.Context(), spaceID, proposalID, user)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"voted": voted})
}

// HandlePower returns the whole-token voting power at the proposal snapshot.
func (c *Controller) HandlePower(w http.ResponseWriter, r *http.Request) {
	spaceID, proposalID, err := pathIDs(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	holder, err := pathAddress(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	power, err := c.App.Domain.VotingPower(r.Context(), spaceID, proposalID, holder)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": holder.Hex(), "power": power.String()})
}
