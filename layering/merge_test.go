package layering

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestMergeLayersFromFixture(t *testing.T) {
	fx := loadLayeringFixture(t, "layering_merge.json")

	for _, tc := range fx.Cases {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			got := MergeLayers(tc.Layers...)
			if !reflect.DeepEqual(tc.Expect, got) {
				t.Errorf("merged record mismatch:\nwant: %#v\n got: %#v", tc.Expect, got)
			}
		})
	}
}

func TestMergeLayersZeroInput(t *testing.T) {
	if got := MergeLayers(); got != nil {
		t.Fatalf("expected MergeLayers() to return nil, got %+v", got)
	}
}

func TestMergeLayersDoesNotAliasInputs(t *testing.T) {
	weak := map[string]any{"physics": map[string]any{"mass": 1.0}, "tags": []any{"a"}}
	strong := map[string]any{"visible": true}

	merged := MergeLayers(strong, weak)
	merged["physics"].(map[string]any)["mass"] = 5.0
	merged["tags"].([]any)[0] = "b"

	if weak["physics"].(map[string]any)["mass"] != 1.0 {
		t.Fatal("merged record aliases nested weak record")
	}
	if weak["tags"].([]any)[0] != "a" {
		t.Fatal("merged record aliases weak sequence")
	}
}

func TestCloneNil(t *testing.T) {
	if Clone(nil) != nil {
		t.Fatal("Clone(nil) should be nil")
	}
}

type layeringFixture struct {
	Description string                `json:"description"`
	Cases       []layeringFixtureCase `json:"cases"`
}

type layeringFixtureCase struct {
	Name   string           `json:"name"`
	Layers []map[string]any `json:"layers"`
	Expect map[string]any   `json:"expect"`
	Notes  string           `json:"notes"`
}

func loadLayeringFixture(t *testing.T, name string) layeringFixture {
	t.Helper()
	path := filepath.Join("..", "testdata", name)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read layering fixture %q: %v", name, err)
	}
	var fx layeringFixture
	if err := json.Unmarshal(raw, &fx); err != nil {
		t.Fatalf("failed to unmarshal layering fixture %q: %v", name, err)
	}
	return fx
}

func TestMergeLayersUnwrapsDescriptorShapedContainers(t *testing.T) {
	strong := map[string]any{
		"meta": map[string]any{ContainerField: map[string]any{
			"storageStrategy": "registry", "key": "k", "declaredTypeName": "T",
		}},
	}
	weak := map[string]any{
		"meta": map[string]any{"key": "old", "extra": true},
	}
	got := MergeLayers(strong, weak)
	want := map[string]any{
		"meta": map[string]any{
			"storageStrategy": "registry", "key": "k", "declaredTypeName": "T", "extra": true,
		},
	}
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("merged record mismatch:\nwant: %#v\n got: %#v", want, got)
	}

	weakShaped := map[string]any{
		"meta": map[string]any{"storageStrategy": "path", "key": "old"},
	}
	strongKey := map[string]any{
		"meta": map[string]any{"declaredTypeName": "T"},
	}
	got = MergeLayers(strongKey, weakShaped)
	wrapped, ok := got["meta"].(map[string]any)[ContainerField].(map[string]any)
	if !ok || wrapped["key"] != "old" || wrapped["declaredTypeName"] != "T" {
		t.Fatalf("descriptor-shaped merge result should be wrapped, got %#v", got["meta"])
	}
}
