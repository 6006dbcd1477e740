package memory

import (
	"context"
	"errors"
	"testing"

	"backtest-console/internal/domain"
	"backtest-console/internal/storage"
)

func TestStrategyStore_UpsertAndGetByPath(t *testing.T) {
	store := NewStrategyStore()
	ctx := context.Background()

	src := &domain.StrategySource{
		Path:      "strategies/momentum.lua",
		Source:    "function onBar() end",
		UpdatedAt: 1704067200000,
	}

	if err := store.Upsert(ctx, src); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	result, err := store.GetByPath(ctx, "strategies/momentum.lua")
	if err != nil {
		t.Fatalf("GetByPath failed: %v", err)
	}

	if result.Source != "function onBar() end" {
		t.Errorf("Source mismatch: got %q", result.Source)
	}
}

func TestStrategyStore_UpsertReplaces(t *testing.T) {
	store := NewStrategyStore()
	ctx := context.Background()

	if err := store.Upsert(ctx, &domain.StrategySource{Path: "s.lua", Source: "v1"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.Upsert(ctx, &domain.StrategySource{Path: "s.lua", Source: "v2"}); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	result, err := store.GetByPath(ctx, "s.lua")
	if err != nil {
		t.Fatalf("GetByPath failed: %v", err)
	}
	if result.Source != "v2" {
		t.Errorf("expected replaced source v2, got %q", result.Source)
	}
}

func TestStrategyStore_GetByPathNotFound(t *testing.T) {
	store := NewStrategyStore()
	ctx := context.Background()

	_, err := store.GetByPath(ctx, "missing.lua")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStrategyStore_UpsertInvalidInput(t *testing.T) {
	store := NewStrategyStore()
	ctx := context.Background()

	if err := store.Upsert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for nil source, got %v", err)
	}
	if err := store.Upsert(ctx, &domain.StrategySource{Source: "x"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty path, got %v", err)
	}
}

func TestStrategyStore_ListSorted(t *testing.T) {
	store := NewStrategyStore()
	ctx := context.Background()

	for _, path := range []string{"b.lua", "a.lua", "c.lua"} {
		if err := store.Upsert(ctx, &domain.StrategySource{Path: path, Source: "x"}); err != nil {
			t.Fatalf("Upsert %s failed: %v", path, err)
		}
	}

	paths, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	want := []string{"a.lua", "b.lua", "c.lua"}
	if len(paths) != len(want) {
		t.Fatalf("expected %d paths, got %d", len(want), len(paths))
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], paths[i])
		}
	}
}
