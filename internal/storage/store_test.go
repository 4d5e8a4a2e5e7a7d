package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	logx "nounsbot/pkg/logx"
)

type driver struct {
	name string
	open func(t *testing.T) Store
	// advance moves the store's clock past a TTL.
	advance func(d time.Duration)
}

func drivers(t *testing.T) []driver {
	t.Helper()
	mem := NewMemory()
	clock := time.Now()
	mem.now = func() time.Time { return clock }

	mr := miniredis.RunT(t)

	sleep := func(d time.Duration) { time.Sleep(d + 5*time.Millisecond) }
	return []driver{
		{
			name:    "memory",
			open:    func(*testing.T) Store { return mem },
			advance: func(d time.Duration) { clock = clock.Add(d + time.Millisecond) },
		},
		{
			name: "file",
			open: func(t *testing.T) Store {
				st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
				if err != nil {
					t.Fatalf("open file: %v", err)
				}
				return st
			},
			advance: sleep,
		},
		{
			name: "sqlite",
			open: func(t *testing.T) Store {
				st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.sqlite")}, logx.Nop())
				if err != nil {
					t.Fatalf("open sqlite: %v", err)
				}
				return st
			},
			advance: sleep,
		},
		{
			name: "redis",
			open: func(t *testing.T) Store {
				return NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:", logx.Nop())
			},
			advance: mr.FastForward,
		},
	}
}

func TestStoreContract(t *testing.T) {
	for _, d := range drivers(t) {
		t.Run(d.name, func(t *testing.T) {
			ctx := context.Background()
			st := d.open(t)
			defer st.Close()

			if _, ok, err := st.Get(ctx, "missing"); err != nil || ok {
				t.Fatalf("Get(missing) = %v, %v", ok, err)
			}
			if err := st.Put(ctx, "k", []byte("v1"), 0); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := st.Put(ctx, "k", []byte("v2"), 0); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}
			b, ok, err := st.Get(ctx, "k")
			if err != nil || !ok || string(b) != "v2" {
				t.Fatalf("Get = %q, %v, %v", b, ok, err)
			}

			if err := st.Put(ctx, "short", []byte("x"), 20*time.Millisecond); err != nil {
				t.Fatalf("Put ttl: %v", err)
			}
			d.advance(20 * time.Millisecond)
			if _, ok, _ := st.Get(ctx, "short"); ok {
				t.Fatal("expired key still readable")
			}
			if _, ok, _ := st.Get(ctx, "k"); !ok {
				t.Fatal("key without ttl expired")
			}

			if err := st.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := st.Get(ctx, "k"); ok {
				t.Fatal("deleted key still readable")
			}
			if _, _, err := st.Get(ctx, ""); !errors.Is(err, ErrEmptyKey) {
				t.Fatalf("Get(\"\") err = %v", err)
			}
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewMemory()
	want := []int64{3, 1, 2}
	if err := PutJSON(ctx, st, "lilnouns-farcaster-voters", want, time.Hour); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}
	got, ok, err := GetJSON[[]int64](ctx, st, "lilnouns-farcaster-voters")
	if err != nil || !ok || len(got) != 3 || got[0] != 3 {
		t.Fatalf("GetJSON = %v, %v, %v", got, ok, err)
	}

	_ = st.Put(ctx, "bad", []byte("{"), 0)
	if _, ok, err := GetJSON[[]int64](ctx, st, "bad"); err == nil || ok {
		t.Fatalf("GetJSON(bad) = %v, %v", ok, err)
	}
	if _, ok, err := GetJSON[[]int64](ctx, st, "absent"); err != nil || ok {
		t.Fatalf("GetJSON(absent) = %v, %v", ok, err)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot.db")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = st.Put(ctx, "a", []byte("1"), 0)
	_ = st.Put(ctx, "b", []byte("2"), 0)
	_ = st.Delete(ctx, "b")

	// Reopen from the journal alone (no Close, no snapshot).
	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if b, ok, _ := st2.Get(ctx, "a"); !ok || string(b) != "1" {
		t.Fatalf("a = %q, %v", b, ok)
	}
	if _, ok, _ := st2.Get(ctx, "b"); ok {
		t.Fatal("deleted key resurrected")
	}
	_ = st.Close()
	_ = st2.Close()

	// Reopen from the snapshot written by Close.
	st3, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	defer st3.Close()
	if _, ok, _ := st3.Get(ctx, "a"); !ok {
		t.Fatal("a lost after compaction")
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if st != nil || err != nil {
		t.Fatalf("Open(none) = %v, %v", st, err)
	}
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for redis without url")
	}
}
