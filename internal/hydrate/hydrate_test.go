package hydrate

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/goliatone/go-datastore/pkg/reference"
)

func TestDecoderFromFixtures(t *testing.T) {
	fx := loadFixture(t, "hydrate_sprites.json")

	for _, tc := range fx.Cases {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			var opts []Option[spriteSettings]
			if tc.Strict {
				opts = append(opts, Strict[spriteSettings]())
			}
			result, err := New[spriteSettings](opts...).Decode(Source{Name: tc.Container}, tc.Input)

			if tc.ExpectErr != "" {
				if err == nil {
					t.Fatalf("expected error %q, got nil", tc.ExpectErr)
				}
				if !strings.Contains(err.Error(), tc.ExpectErr) {
					t.Fatalf("expected error containing %q, got %v", tc.ExpectErr, err)
				}
				if !strings.Contains(err.Error(), tc.Container) {
					t.Fatalf("expected error to name container %q, got %v", tc.Container, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected decode error: %v", err)
			}
			if !reflect.DeepEqual(tc.Expect, result) {
				t.Fatalf("decoded snapshot mismatch:\nwant: %#v\n got: %#v", tc.Expect, result)
			}
		})
	}
}

func TestDecodeNilSnapshot(t *testing.T) {
	_, err := New[spriteSettings]().Decode(Source{Name: "empty"}, nil)
	if err == nil || !strings.Contains(err.Error(), `container "empty"`) {
		t.Fatalf("expected nil snapshot error, got %v", err)
	}
}

func TestStrictUnknownFieldIsTyped(t *testing.T) {
	_, err := New[spriteSettings](Strict[spriteSettings]()).Decode(Source{Name: "x"}, map[string]any{"glow": 1})
	if !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestDescriptorsDecodeWithoutHandles(t *testing.T) {
	desc := reference.Descriptor{Strategy: reference.StrategyPath, Key: "tex/hero", TypeName: "*hydrate.texture"}
	out, err := New[spriteSettings]().Decode(Source{Name: "hero"}, map[string]any{"skin": desc})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Skin != desc {
		t.Fatalf("expected descriptor %v, got %v", desc, out.Skin)
	}
}

func TestHandlesBindReferenceSlots(t *testing.T) {
	hero := &texture{Name: "hero"}
	skin := reference.Descriptor{Strategy: reference.StrategyPath, Key: "tex/hero", TypeName: "*hydrate.texture"}
	shade := reference.Descriptor{Strategy: reference.StrategyRegistry, Key: "tex/shade", TypeName: "*hydrate.texture"}

	var seen []string
	handles := func(path string, desc reference.Descriptor) (any, error) {
		seen = append(seen, path)
		if desc.Key == "tex/hero" {
			return hero, nil
		}
		return nil, nil
	}

	snapshot := map[string]any{
		"texture": skin,
		"skin":    skin,
		"layers":  map[string]any{"shade": shade},
	}
	out, err := New[spriteSettings](Handles[spriteSettings](handles)).Decode(Source{Name: "hero"}, snapshot)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Texture != hero {
		t.Fatalf("expected bound handle, got %v", out.Texture)
	}
	if out.Skin != skin {
		t.Fatalf("descriptor fields keep the descriptor, got %v", out.Skin)
	}
	if out.Layers.Shade != nil {
		t.Fatalf("unresolved slot must stay nil, got %v", out.Layers.Shade)
	}
	if len(seen) != 2 {
		t.Fatalf("expected handle lookups for texture and layers.shade, got %v", seen)
	}
}

func TestHandleOfWrongTypeIsRejected(t *testing.T) {
	desc := reference.Descriptor{Strategy: reference.StrategyPath, Key: "tex/hero", TypeName: "*hydrate.texture"}
	handles := func(string, reference.Descriptor) (any, error) { return "not a texture", nil }
	_, err := New[spriteSettings](Handles[spriteSettings](handles)).Decode(Source{Name: "hero"}, map[string]any{"texture": desc})
	if !errors.Is(err, ErrHandleType) || !strings.Contains(err.Error(), `"texture"`) {
		t.Fatalf("expected ErrHandleType naming the field, got %v", err)
	}
}

func TestHandleErrorsAreWrapped(t *testing.T) {
	sentinel := errors.New("backend down")
	desc := reference.Descriptor{Strategy: reference.StrategyPath, Key: "tex/hero", TypeName: "*hydrate.texture"}
	handles := func(string, reference.Descriptor) (any, error) { return nil, sentinel }
	_, err := New[spriteSettings](Handles[spriteSettings](handles)).Decode(Source{Name: "hero"}, map[string]any{"texture": desc})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
}

func TestChecksSeeSourceAndCanReject(t *testing.T) {
	var got Source
	tagLayer := func(src Source, s *spriteSettings) error {
		got = src
		if len(s.Tags) == 0 {
			s.Tags = []string{src.Layer + ":" + filepath.Base(src.Name)}
		}
		return nil
	}
	out, err := New[spriteSettings](WithCheck[spriteSettings](tagLayer)).Decode(Source{Name: "level/cave", Layer: "instance"}, map[string]any{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Layer != "instance" || len(out.Tags) != 1 || out.Tags[0] != "instance:cave" {
		t.Fatalf("unexpected check result %+v source=%+v", out, got)
	}

	sentinel := errors.New("rejected")
	reject := func(Source, *spriteSettings) error { return sentinel }
	if _, err := New[spriteSettings](WithCheck[spriteSettings](reject)).Decode(Source{Name: "x"}, map[string]any{}); !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
}

func TestDecodeDoesNotMutateSnapshot(t *testing.T) {
	physicsRecord := map[string]any{"mass": 3}
	snapshot := map[string]any{"physics": physicsRecord}
	if _, err := New[spriteSettings]().Decode(Source{}, snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(physicsRecord) != 1 || physicsRecord["mass"] != 3 {
		t.Fatalf("snapshot modified: %v", physicsRecord)
	}
}

type fixture struct {
	Description string        `json:"description"`
	Cases       []fixtureCase `json:"cases"`
}

type fixtureCase struct {
	Name      string         `json:"name"`
	Container string         `json:"container"`
	Strict    bool           `json:"strict"`
	Input     map[string]any `json:"input"`
	Expect    spriteSettings `json:"expect"`
	ExpectErr string         `json:"expectErr"`
}

type texture struct {
	Name string
}

type audit struct {
	Owner    string `json:"owner"`
	Revision int    `json:"revision"`
}

type spriteSettings struct {
	audit
	Visible bool                 `json:"visible"`
	Tint    color                `json:"tint"`
	Physics physics              `json:"physics"`
	Shadow  *physics             `json:"shadow,omitempty"`
	Tags    []string             `json:"tags"`
	Skin    reference.Descriptor `json:"skin"`
	Texture *texture             `json:"texture,omitempty"`
	Layers  struct {
		Shade *texture `json:"shade"`
	} `json:"layers"`
}

type color struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

type physics struct {
	Mass int     `json:"mass"`
	Drag float64 `json:"drag"`
}

func loadFixture(t *testing.T, name string) fixture {
	t.Helper()
	path := filepath.Join("..", "..", "testdata", name)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read hydrate fixture %q: %v", name, err)
	}
	var fx fixture
	if err := json.Unmarshal(raw, &fx); err != nil {
		t.Fatalf("failed to unmarshal hydrate fixture %q: %v", name, err)
	}
	return fx
}
