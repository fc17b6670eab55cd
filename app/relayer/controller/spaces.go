package controller

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ufedojoa/townsquare/pkg/models"
)

func (c *Controller) HandleSpaces(w http.ResponseWriter, r *http.Request) {
	page, err := parsePageSpec(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	spaces, err := c.App.Domain.ListSpaces(r.Context(), page.Skip, page.Limit)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"spaces": spaces, "skip": page.Skip, "limit": page.Limit})
}

// HandleSpace returns the space detail including its admins.
func (c *Controller) HandleSpace(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "spaceId")
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	space, err := c.App.Domain.GetSpace(ctx, id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	admins, err := c.App.Domain.LoadSpaceAdmins(ctx, id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	space.Admins = admins
	if space.Admins == nil {
		space.Admins = []common.Address{}
	}
	writeJSON(w, http.StatusOK, space)
}

func (c *Controller) HandleSpaceSettings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "spaceId")
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	settings, err := c.App.Domain.GetSpaceSettings(r.Context(), id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (c *Controller) HandleMembership(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "spaceId")
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	user, err := pathAddress(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	member, err := c.App.Domain.IsSpaceMember(ctx, id, user)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	admin, err := c.App.Domain.IsSpaceAdmin(ctx, id, user)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"member": member, "admin": admin})
}

func (c *Controller) HandleUserSpaces(w http.ResponseWriter, r *http.Request) {
	user, err := pathAddress(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	spaces, err := c.App.Domain.ListUserSpaces(r.Context(), user)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	if spaces == nil {
		spaces = []models.UserSpace{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"spaces": spaces})
}
