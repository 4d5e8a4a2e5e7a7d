package lilnouns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logx "nounsbot/pkg/logx"
)

// fakeSubgraph serves `total` accounts, paged by skip/first.
func fakeSubgraph(t *testing.T, total int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		skip := int(req.Variables["skip"].(float64))
		first := int(req.Variables["first"].(float64))

		switch {
		case strings.Contains(req.Query, "accounts("):
			if req.Variables["excluded"] == nil {
				t.Errorf("accounts query without exclusions")
			}
			var out []map[string]any
			for i := skip; i < total && i < skip+first; i++ {
				out = append(out, map[string]any{"id": fmt.Sprintf("0x%04d", i), "nouns": []any{map[string]any{"id": fmt.Sprint(i)}}})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"accounts": out}})
		case strings.Contains(req.Query, "proposals("):
			if req.Variables["status"] != "ACTIVE" {
				t.Errorf("status = %v", req.Variables["status"])
			}
			var out []any
			if skip == 0 {
				out = append(out, map[string]any{
					"id": "12", "status": "ACTIVE", "endBlock": "100",
					"votes": []any{map[string]any{"voter": map[string]any{"id": "0xaa"}}, map[string]any{"voter": map[string]any{"id": ""}}},
				})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"proposals": out}})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"errors": []any{map[string]any{"message": "unknown field"}}})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAccountsPaginates(t *testing.T) {
	t.Parallel()

	srv := fakeSubgraph(t, 25)
	c := New(Config{URL: srv.URL, PageSize: 10}, logx.Nop())
	got, err := c.Accounts(context.Background())
	if err != nil {
		t.Fatalf("Accounts: %v", err)
	}
	if len(got) != 25 || got[0].ID != "0x0000" || got[24].ID != "0x0024" {
		t.Fatalf("accounts = %d: %+v", len(got), got)
	}
	if len(got[3].Nouns) != 1 {
		t.Fatalf("nouns not decoded: %+v", got[3])
	}
}

func TestMaxPages(t *testing.T) {
	t.Parallel()

	srv := fakeSubgraph(t, 100)
	c := New(Config{URL: srv.URL, PageSize: 10, MaxPages: 2}, logx.Nop())
	got, err := c.Accounts(context.Background())
	if err != nil || len(got) != 20 {
		t.Fatalf("Accounts = %d, %v; want 20", len(got), err)
	}
}

func TestActiveProposals(t *testing.T) {
	t.Parallel()

	srv := fakeSubgraph(t, 0)
	c := New(Config{URL: srv.URL}, logx.Nop())
	got, err := c.ActiveProposals(context.Background())
	if err != nil {
		t.Fatalf("ActiveProposals: %v", err)
	}
	if len(got) != 1 || got[0].ID != "12" || got[0].EndBlock != "100" {
		t.Fatalf("proposals = %+v", got)
	}
	if v := got[0].VoterAddresses(); len(v) != 1 || v[0] != "0xaa" {
		t.Fatalf("voters = %v", v)
	}
}

func TestGraphQLErrors(t *testing.T) {
	t.Parallel()

	srv := fakeSubgraph(t, 0)
	c := New(Config{URL: srv.URL}, logx.Nop())
	if _, err := c.Delegates(context.Background()); !errors.Is(err, ErrGraphQL) {
		t.Fatalf("err = %v, want ErrGraphQL", err)
	}
}
