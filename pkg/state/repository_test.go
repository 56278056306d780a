package state_test

import (
	"context"
	"errors"
	"testing"

	datastore "github.com/goliatone/go-datastore"
	"github.com/goliatone/go-datastore/pkg/state"
)

func seed(t *testing.T, store state.Store, ref state.Ref, record map[string]any) state.Meta {
	t.Helper()
	meta, err := store.Save(context.Background(), ref, record, state.Meta{})
	if err != nil {
		t.Fatalf("seed %s: %v", ref, err)
	}
	return meta
}

func TestRepositoryLoad(t *testing.T) {
	for _, factory := range storeFactories {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.new(t)
			ref := state.Ref{Domain: "sprites", Name: "hero"}
			saved := seed(t, store, ref, map[string]any{
				"speed":   5,
				"physics": map[string]any{"drag": 0.5},
			})

			repo := state.NewRepository(store)
			c, meta, err := repo.Load(context.Background(), ref)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if meta.ETag != saved.ETag {
				t.Fatalf("expected etag %q, got %q", saved.ETag, meta.ETag)
			}
			if c.Name() != "hero" {
				t.Fatalf("expected container named after ref, got %q", c.Name())
			}
			speed, err := datastore.Get[int](c, "speed")
			if err != nil || speed != 5 {
				t.Fatalf("speed = %d, %v", speed, err)
			}
			drag, err := datastore.PathGet[float64](c, "physics.drag")
			if err != nil || drag != 0.5 {
				t.Fatalf("physics.drag = %v, %v", drag, err)
			}
		})
	}
}

func TestRepositoryLoadMissing(t *testing.T) {
	repo := state.NewRepository(state.NewMemoryStore())
	_, _, err := repo.Load(context.Background(), state.Ref{Domain: "sprites", Name: "ghost"})
	if !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepositoryRequiresStore(t *testing.T) {
	_, _, err := state.Repository{}.Load(context.Background(), state.Ref{Domain: "a", Name: "b"})
	if err == nil || err.Error() != "state: store is required" {
		t.Fatalf("expected store required error, got %v", err)
	}
}

func TestRepositoryLoadInstance(t *testing.T) {
	store := state.NewMemoryStore()
	tmplRef := state.Ref{Domain: "sprites", Name: "enemy"}
	instRef := state.Ref{Domain: "sprites", Name: "enemy-7"}
	seed(t, store, tmplRef, map[string]any{"speed": 2, "physics": map[string]any{"drag": 0.1, "mass": 3}})
	seed(t, store, instRef, map[string]any{"physics": map[string]any{"drag": 0.9}})

	repo := state.NewRepository(store)
	c, _, err := repo.LoadInstance(context.Background(), tmplRef, instRef)
	if err != nil {
		t.Fatalf("load instance: %v", err)
	}
	if !c.IsInstance() {
		t.Fatal("expected an instance container")
	}
	if speed, _ := datastore.Get[int](c, "speed"); speed != 2 {
		t.Fatalf("expected inherited speed 2, got %d", speed)
	}
	if drag, _ := datastore.PathGet[float64](c, "physics.drag"); drag != 0.9 {
		t.Fatalf("expected overridden drag 0.9, got %v", drag)
	}
	if mass, _ := datastore.PathGet[int](c, "physics.mass"); mass != 3 {
		t.Fatalf("expected inherited mass 3, got %d", mass)
	}

	trace, err := c.Trace("physics.drag")
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	winner, ok := trace.Winner()
	if !ok || winner.Layer != "enemy-7" {
		t.Fatalf("expected instance layer to win, got %+v", winner)
	}
}

func TestRepositoryLoadInstanceWithoutInstanceRecord(t *testing.T) {
	store := state.NewMemoryStore()
	tmplRef := state.Ref{Domain: "sprites", Name: "enemy"}
	seed(t, store, tmplRef, map[string]any{"speed": 2})

	c, meta, err := state.NewRepository(store).LoadInstance(context.Background(), tmplRef, state.Ref{Domain: "sprites", Name: "fresh"})
	if err != nil {
		t.Fatalf("load instance: %v", err)
	}
	if meta.ETag != "" {
		t.Fatalf("expected empty meta for missing instance, got %+v", meta)
	}
	if len(c.OwnKeys()) != 0 {
		t.Fatalf("expected empty instance, got own keys %v", c.OwnKeys())
	}
	if speed, _ := datastore.Get[int](c, "speed"); speed != 2 {
		t.Fatalf("expected template speed, got %d", speed)
	}
}

func TestRepositoryLoadWithDefaults(t *testing.T) {
	store := state.NewMemoryStore()
	ref := state.Ref{Domain: "sprites", Name: "hero"}
	seed(t, store, ref, map[string]any{"physics": map[string]any{"drag": 0.5}})

	defaults := map[string]any{"visible": true, "physics": map[string]any{"drag": 0.1, "mass": 1}}
	repo := state.NewRepository(store)

	c, _, err := repo.LoadWithDefaults(context.Background(), ref, defaults)
	if err != nil {
		t.Fatalf("load with defaults: %v", err)
	}
	if visible, _ := datastore.Get[bool](c, "visible"); !visible {
		t.Fatal("expected default visible=true")
	}
	if drag, _ := datastore.PathGet[float64](c, "physics.drag"); drag != 0.5 {
		t.Fatalf("expected stored drag, got %v", drag)
	}
	if mass, _ := datastore.PathGet[int](c, "physics.mass"); mass != 1 {
		t.Fatalf("expected default mass, got %d", mass)
	}

	missing, _, err := repo.LoadWithDefaults(context.Background(), state.Ref{Domain: "sprites", Name: "ghost"}, defaults)
	if err != nil {
		t.Fatalf("load defaults only: %v", err)
	}
	if drag, _ := datastore.PathGet[float64](missing, "physics.drag"); drag != 0.1 {
		t.Fatalf("expected default drag, got %v", drag)
	}
}

func TestRepositoryResolveChainsRecords(t *testing.T) {
	store := state.NewMemoryStore()
	seed(t, store, state.Ref{Domain: "audio", Name: "user"}, map[string]any{"volume": 0.2})
	seed(t, store, state.Ref{Domain: "audio", Name: "base"}, map[string]any{"volume": 1.0, "bus": "sfx"})

	c, err := state.NewRepository(store).Resolve(context.Background(), "audio", "user", "team", "base")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if volume, _ := datastore.Get[float64](c, "volume"); volume != 0.2 {
		t.Fatalf("expected user volume, got %v", volume)
	}
	if bus, _ := datastore.Get[string](c, "bus"); bus != "sfx" {
		t.Fatalf("expected base bus, got %q", bus)
	}
	trace, _ := c.Trace("bus")
	if len(trace.Layers) != 2 || trace.Layers[0].Layer != "user" || trace.Layers[1].Layer != "base" {
		t.Fatalf("unexpected trace layers %+v", trace.Layers)
	}

	if _, err := state.NewRepository(store).Resolve(context.Background(), "audio", "nobody"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepositoryMutate(t *testing.T) {
	for _, factory := range storeFactories {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			store := factory.new(t)
			ref := state.Ref{Domain: "sprites", Name: "hero"}
			saved := seed(t, store, ref, map[string]any{"speed": 5})
			repo := state.NewRepository(store)

			c, meta, err := repo.Mutate(ctx, ref, state.Meta{ETag: saved.ETag}, func(c *datastore.Container) error {
				return c.PathSet("physics.drag", 0.25)
			})
			if err != nil {
				t.Fatalf("mutate: %v", err)
			}
			if meta.ETag == saved.ETag {
				t.Fatal("expected new etag after mutate")
			}
			if meta.SnapshotID != saved.SnapshotID {
				t.Fatalf("expected snapshot id %q to carry over, got %q", saved.SnapshotID, meta.SnapshotID)
			}
			if drag, _ := datastore.PathGet[float64](c, "physics.drag"); drag != 0.25 {
				t.Fatalf("mutated container drag = %v", drag)
			}

			reloaded, _, err := repo.Load(ctx, ref)
			if err != nil {
				t.Fatalf("reload: %v", err)
			}
			if speed, _ := datastore.Get[int](reloaded, "speed"); speed != 5 {
				t.Fatalf("expected speed kept, got %d", speed)
			}
			if drag, _ := datastore.PathGet[float64](reloaded, "physics.drag"); drag != 0.25 {
				t.Fatalf("expected persisted drag, got %v", drag)
			}

			_, current, err := repo.Mutate(ctx, ref, state.Meta{ETag: saved.ETag}, func(*datastore.Container) error { return nil })
			if !errors.Is(err, state.ErrETagMismatch) {
				t.Fatalf("expected ErrETagMismatch for stale etag, got %v", err)
			}
			if current.ETag != meta.ETag {
				t.Fatalf("expected current meta on mismatch, got %+v", current)
			}
		})
	}
}

func TestRepositoryMutateFailureDoesNotSave(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	ref := state.Ref{Domain: "sprites", Name: "hero"}
	saved := seed(t, store, ref, map[string]any{"speed": 5})

	sentinel := errors.New("rejected")
	_, _, err := state.NewRepository(store).Mutate(ctx, ref, state.Meta{}, func(c *datastore.Container) error {
		if err := c.Set("speed", 9); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected mutator error, got %v", err)
	}
	record, meta, _, _ := store.Load(ctx, ref)
	if meta.ETag != saved.ETag || record["speed"] != 5 {
		t.Fatalf("expected untouched record, got %v %+v", record, meta)
	}
}

func TestRepositoryMutateCreatesMissingRecord(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	ref := state.Ref{Domain: "sprites", Name: "new"}

	_, meta, err := state.NewRepository(store).Mutate(ctx, ref, state.Meta{}, func(c *datastore.Container) error {
		return c.Set("visible", true)
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if meta.SnapshotID == "" || meta.ETag == "" {
		t.Fatalf("expected stamped meta, got %+v", meta)
	}
	record, _, ok, _ := store.Load(ctx, ref)
	if !ok || record["visible"] != true {
		t.Fatalf("expected persisted record, got %v", record)
	}
}

func TestRepositorySaveChecksETag(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	ref := state.Ref{Domain: "sprites", Name: "hero"}
	seed(t, store, ref, map[string]any{"speed": 1})

	c := datastore.New()
	if err := c.Set("speed", 2); err != nil {
		t.Fatalf("set: %v", err)
	}
	repo := state.NewRepository(store)
	if _, err := repo.Save(ctx, ref, c, state.Meta{ETag: "stale"}); !errors.Is(err, state.ErrETagMismatch) {
		t.Fatalf("expected ErrETagMismatch, got %v", err)
	}
	if _, err := repo.Save(ctx, ref, c, state.Meta{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	record, _, _, _ := store.Load(ctx, ref)
	if record["speed"] != 2 {
		t.Fatalf("expected saved speed, got %v", record["speed"])
	}
}
