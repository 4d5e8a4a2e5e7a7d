package warpcast

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	logx "nounsbot/pkg/logx"
)

// StarterPack is a curated list of accounts owned by one user.
type StarterPack struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Labels      []string `json:"labels,omitempty"`
}

// StarterPackUpdate replaces a pack's metadata and member list.
type StarterPackUpdate struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	FIDs        []int64  `json:"fids"`
	Labels      []string `json:"labels"`
}

// starterPacksLimit is the page size Warpcast allows for the pack listing.
const starterPacksLimit = 100

type starterPacksResult struct {
	Result struct {
		StarterPacks []StarterPack `json:"starterPacks"`
	} `json:"result"`
}

// StarterPacks lists the packs owned by fid, first page only.
func (c *Client) StarterPacks(ctx context.Context, fid int64) ([]StarterPack, error) {
	q := url.Values{
		"fid":   {strconv.FormatInt(fid, 10)},
		"limit": {strconv.Itoa(starterPacksLimit)},
	}
	var out starterPacksResult
	if err := c.do(ctx, http.MethodGet, "/v2/starter-packs?"+q.Encode(), c.token, nil, &out); err != nil {
		return nil, err
	}
	return out.Result.StarterPacks, nil
}

// UpdateStarterPack replaces the pack identified by u.ID. A 2xx response
// that does not report success returns ErrUpdateRefused.
func (c *Client) UpdateStarterPack(ctx context.Context, u StarterPackUpdate) error {
	if u.FIDs == nil {
		u.FIDs = []int64{}
	}
	if u.Labels == nil {
		u.Labels = []string{}
	}
	var out successResult
	if err := c.do(ctx, http.MethodPatch, "/v2/starter-pack", c.token, u, &out); err != nil {
		return err
	}
	if !out.Result.Success {
		return ErrUpdateRefused
	}
	c.log.Debug("starter pack updated", logx.String("id", u.ID), logx.Int("members", len(u.FIDs)))
	return nil
}
