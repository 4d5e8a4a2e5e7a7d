// Package lilnouns queries the Lil Nouns subgraph for token holders,
// delegates and proposals.
package lilnouns

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "nounsbot/pkg/logx"
)

const (
	DefaultURL = "https://api.goldsky.com/api/public/project_cldjvjgtylso13swq3dre13sf/subgraphs/lil-nouns-subgraph/1.0.4/gn"
	// DefaultPageSize is the subgraph's maximum `first`.
	DefaultPageSize = 1000
)

var ErrGraphQL = errors.New("lilnouns: graphql error")

// Addresses that hold tokens without being voters (auction house, zero
// address, treasury).
var excludedAccounts = []string{
	"0x0bc3807ec262cb779b38d65b38158acc3bfede10",
	"0x0000000000000000000000000000000000000000",
	"0x18222a762bf67024193de25e1cdc7aa6e614c695",
}

type Config struct {
	URL      string
	PageSize int
	Timeout  time.Duration
	// MaxPages stops runaway pagination; 0 means no limit.
	MaxPages int
}

type Client struct {
	url      string
	pageSize int
	maxPages int
	http     *http.Client
	log      logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.PageSize <= 0 || cfg.PageSize > DefaultPageSize {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		url:      cfg.URL,
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
		http:     &http.Client{Timeout: cfg.Timeout},
		log:      log.Component("subgraph"),
	}
}

type Account struct {
	ID    string `json:"id"`
	Nouns []Noun `json:"nouns"`
}

type Noun struct {
	ID string `json:"id"`
}

type Delegate struct {
	ID               string `json:"id"`
	DelegatedVotes   string `json:"delegatedVotes"`
	NounsRepresented []Noun `json:"nounsRepresented"`
}

type Vote struct {
	Voter struct {
		ID string `json:"id"`
	} `json:"voter"`
}

type Proposal struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	EndBlock string `json:"endBlock"`
	Votes    []Vote `json:"votes"`
}

// VoterAddresses returns the addresses that voted on p.
func (p Proposal) VoterAddresses() []string {
	out := make([]string, 0, len(p.Votes))
	for _, v := range p.Votes {
		if v.Voter.ID != "" {
			out = append(out, v.Voter.ID)
		}
	}
	return out
}

const accountsQuery = `query Accounts($skip: Int!, $first: Int!, $excluded: [String!]) {
  accounts(skip: $skip, first: $first, orderBy: tokenBalance, orderDirection: desc,
    where: { tokenBalance_gt: 0, id_not_in: $excluded }) {
    id
    nouns { id }
  }
}`

const delegatesQuery = `query Delegates($skip: Int!, $first: Int!) {
  delegates(skip: $skip, first: $first, orderBy: delegatedVotes, orderDirection: desc,
    where: { delegatedVotes_gt: 0 }, subgraphError: deny) {
    id
    delegatedVotes
    nounsRepresented(first: 1000, orderBy: id, orderDirection: asc) { id }
  }
}`

const proposalsQuery = `query Proposals($skip: Int!, $first: Int!, $status: ProposalStatus!) {
  proposals(skip: $skip, first: $first, orderBy: createdBlock, orderDirection: desc,
    where: { status: $status }, subgraphError: deny) {
    id
    title
    status
    endBlock
    votes(first: 1000) { voter { id } }
  }
}`

// Accounts returns every account holding at least one token.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	return paginate[Account](ctx, c, "accounts", accountsQuery, map[string]any{"excluded": excludedAccounts})
}

// Delegates returns every delegate with voting power.
func (c *Client) Delegates(ctx context.Context) ([]Delegate, error) {
	return paginate[Delegate](ctx, c, "delegates", delegatesQuery, nil)
}

// ActiveProposals returns proposals in the ACTIVE state together with their votes.
func (c *Client) ActiveProposals(ctx context.Context) ([]Proposal, error) {
	return paginate[Proposal](ctx, c, "proposals", proposalsQuery, map[string]any{"status": "ACTIVE"})
}

// paginate walks skip/first pages until one comes back empty.
func paginate[T any](ctx context.Context, c *Client, field, query string, vars map[string]any) ([]T, error) {
	var all []T
	for page, skip := 0, 0; c.maxPages == 0 || page < c.maxPages; page, skip = page+1, skip+c.pageSize {
		v := map[string]any{"skip": skip, "first": c.pageSize}
		for k, val := range vars {
			v[k] = val
		}
		var data map[string][]T
		if err := c.query(ctx, query, v, &data); err != nil {
			return all, fmt.Errorf("lilnouns: %s page %d: %w", field, page, err)
		}
		items := data[field]
		if len(items) == 0 {
			break
		}
		all = append(all, items...)
	}
	c.log.Debug("subgraph fetched", logx.String("field", field), logx.Int("count", len(all)))
	return all, nil
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) query(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", resp.StatusCode, truncate(data, 256))
	}
	var gr gqlResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, 0, len(gr.Errors))
		for _, e := range gr.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("%w: %s", ErrGraphQL, strings.Join(msgs, "; "))
	}
	if len(gr.Data) == 0 || string(gr.Data) == "null" {
		return nil
	}
	return json.Unmarshal(gr.Data, out)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
