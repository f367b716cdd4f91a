package storage

import (
	"context"
	"testing"

	"neurowalk/internal/model"
)

func TestMemoryStoreRunHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	older := model.Run{VersionedRecord: Versioned(), ID: "a", Layers: []int{8, 6, 5}, CreatedAtUTC: "2026-01-01T00:00:00Z"}
	newer := model.Run{VersionedRecord: Versioned(), ID: "b", Layers: []int{8, 5}, CreatedAtUTC: "2026-02-01T00:00:00Z"}
	for _, run := range []model.Run{older, newer} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run %s: %v", run.ID, err)
		}
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "b" || runs[1].ID != "a" {
		t.Fatalf("expected newest run first, got %+v", runs)
	}

	loaded, ok, err := store.GetRun(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%v err=%v", ok, err)
	}
	loaded.Layers[0] = 99
	again, _, _ := store.GetRun(ctx, "a")
	if again.Layers[0] != 8 {
		t.Fatal("store returned aliased layers")
	}

	for gen := 1; gen <= 3; gen++ {
		if err := store.AppendGeneration(ctx, "a", model.GenerationRecord{Generation: gen, BestFitness: float64(gen)}); err != nil {
			t.Fatalf("append generation: %v", err)
		}
	}
	records, ok, err := store.GetGenerations(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("get generations: ok=%v err=%v", ok, err)
	}
	if len(records) != 3 || records[2].BestFitness != 3 {
		t.Fatalf("unexpected generations: %+v", records)
	}
	if _, ok, _ := store.GetGenerations(ctx, "missing"); ok {
		t.Fatal("expected no generations for unknown run")
	}
}

func TestMemoryStoreReplacesGenerationByNumber(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	for i, gen := range []int{2, 1, 3, 2} {
		record := model.GenerationRecord{Generation: gen, BestFitness: float64(i)}
		if err := store.AppendGeneration(ctx, "a", record); err != nil {
			t.Fatalf("append generation %d: %v", gen, err)
		}
	}
	records, _, err := store.GetGenerations(ctx, "a")
	if err != nil {
		t.Fatalf("get generations: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected one record per generation, got %+v", records)
	}
	for i, record := range records {
		if record.Generation != i+1 {
			t.Fatalf("expected generations in order, got %+v", records)
		}
	}
	if records[1].BestFitness != 3 {
		t.Fatalf("expected the later generation 2 record to win, got %+v", records[1])
	}
}

func TestMemoryStoreChampionOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	first := model.ChampionRecord{VersionedRecord: Versioned(), RunID: "r", Generation: 1, Fitness: 1, Parameters: []float32{1}}
	second := model.ChampionRecord{VersionedRecord: Versioned(), RunID: "r", Generation: 2, Fitness: 2, Parameters: []float32{2}}
	if err := store.SaveChampion(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := store.SaveChampion(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, ok, err := store.GetChampion(ctx, "r")
	if err != nil || !ok {
		t.Fatalf("get champion: ok=%v err=%v", ok, err)
	}
	if got.Generation != 2 || got.Parameters[0] != 2 {
		t.Fatalf("expected latest champion, got %+v", got)
	}
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	if err := store.SaveRun(context.Background(), model.Run{ID: "x"}); err == nil {
		t.Fatal("expected error before init")
	}
}
