package registry

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"dlmm-tracker/internal/upstream/dexapi"
)

const (
	primaryMint = "PRimaryMint11111111111111111111111111111111"
	programID   = "DLMMprog1111111111111111111111111111111111"
)

type stubSource struct {
	pools   []dexapi.PoolInfo
	volumes map[string]float64
	err     error
}

func (s *stubSource) Pools(context.Context) ([]dexapi.PoolInfo, error) {
	return s.pools, s.err
}

func (s *stubSource) Volumes(context.Context) (map[string]float64, error) {
	return s.volumes, s.err
}

func newTestRegistry(src *stubSource) *Registry {
	return New(Options{
		Source:      src,
		ProgramID:   programID,
		PrimaryMint: primaryMint,
		Logger:      log.New(io.Discard, "", 0),
	})
}

func poolInfo(id, base, quote string) dexapi.PoolInfo {
	return dexapi.PoolInfo{ID: id, BaseMint: base, QuoteMint: quote, BaseSymbol: "BASE", QuoteSymbol: "QUOTE"}
}

func TestRegistry_RefreshBuildsIndexes(t *testing.T) {
	src := &stubSource{pools: []dexapi.PoolInfo{
		poolInfo("P1", primaryMint, "USDCmint"),
		poolInfo("P2", "OtherMint", "USDCmint"),
	}}
	r := newTestRegistry(src)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	snap := r.Snapshot()
	if len(snap.Pools) != 2 {
		t.Fatalf("expected 2 pools, got %d", len(snap.Pools))
	}
	if !snap.ByID["P1"].IsPrimary {
		t.Error("P1 contains the primary mint and should be flagged primary")
	}
	if snap.ByID["P2"].IsPrimary {
		t.Error("P2 should not be primary")
	}
	if got := len(r.FindByToken("USDCmint")); got != 2 {
		t.Errorf("expected 2 pools listing USDCmint, got %d", got)
	}
	if snap.ByID["P1"].PairName != "BASE/QUOTE" {
		t.Errorf("unexpected pair name %q", snap.ByID["P1"].PairName)
	}
}

func TestRegistry_SkipsDegeneratePools(t *testing.T) {
	src := &stubSource{pools: []dexapi.PoolInfo{
		poolInfo("P1", "SameMint", "SameMint"), // base == quote
		poolInfo("", "A", "B"),                 // no id
		poolInfo("P3", "A", "B"),
	}}
	r := newTestRegistry(src)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap := r.Snapshot()
	if len(snap.Pools) != 1 || snap.ByID["P3"] == nil {
		t.Fatalf("expected only P3 to survive, got %d pools", len(snap.Pools))
	}
	for _, p := range snap.Pools {
		if p.BaseMint == p.QuoteMint {
			t.Fatal("published snapshot must not contain base==quote pools")
		}
	}
}

func TestRegistry_FailedRefreshKeepsSnapshot(t *testing.T) {
	src := &stubSource{pools: []dexapi.PoolInfo{poolInfo("P1", "A", "B")}}
	r := newTestRegistry(src)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	src.err = errors.New("upstream down")
	if err := r.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}

	if r.Get("P1") == nil {
		t.Fatal("previous snapshot should remain published after a failed refresh")
	}
}

func TestRegistry_IsDEXTransaction(t *testing.T) {
	src := &stubSource{pools: []dexapi.PoolInfo{poolInfo("P1", "A", "B")}}
	r := newTestRegistry(src)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		accounts []string
		want     bool
	}{
		{[]string{"X", programID}, true},
		{[]string{"P1"}, true},
		{[]string{"X", "Y"}, false},
		{nil, false},
	}
	for _, c := range cases {
		if got := r.IsDEXTransaction(c.accounts); got != c.want {
			t.Errorf("IsDEXTransaction(%v) = %v, want %v", c.accounts, got, c.want)
		}
	}
}

func TestRegistry_VolumeRefreshAndTop(t *testing.T) {
	src := &stubSource{
		pools: []dexapi.PoolInfo{
			poolInfo("P1", "A", "B"),
			poolInfo("P2", "C", "D"),
			poolInfo("P3", "E", "F"),
		},
		volumes: map[string]float64{"P1": 100, "P2": 900, "P3": 500},
	}
	r := newTestRegistry(src)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	rows, err := r.RefreshVolumes(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 volume rows, got %d", len(rows))
	}

	top := r.TopByVolume(2)
	if len(top) != 2 || top[0].ID != "P2" || top[1].ID != "P3" {
		t.Fatalf("unexpected top-by-volume order: %+v", top)
	}
}
