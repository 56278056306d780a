package locator

import (
	"errors"
	"testing"

	"github.com/goliatone/go-datastore/pkg/errdefs"
)

type greeter interface {
	Greet() string
}

type english struct{}

func (english) Greet() string { return "hello" }

type counter struct{ n int }

func TestProvideAndResolve(t *testing.T) {
	l := New()
	Provide[greeter](l, english{})
	Provide(l, &counter{n: 3})

	g, err := Resolve[greeter](l)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if g.Greet() != "hello" {
		t.Fatalf("unexpected greeter %v", g)
	}

	c, ok := TryResolve[*counter](l)
	if !ok || c.n != 3 {
		t.Fatalf("TryResolve() = %v, %v", c, ok)
	}
}

func TestTryResolveMissing(t *testing.T) {
	l := New()
	if _, ok := TryResolve[*counter](l); ok {
		t.Fatal("expected missing service")
	}
	if _, err := Resolve[*counter](l); !errors.Is(err, errdefs.ErrUnsupportedStrategy) {
		t.Fatalf("expected ErrUnsupportedStrategy, got %v", err)
	}
	var nilLocator *Locator
	if _, ok := TryResolve[*counter](nilLocator); ok {
		t.Fatal("nil locator must not resolve")
	}
}

func TestRemoveAndReset(t *testing.T) {
	l := New()
	Provide(l, &counter{})
	Provide[greeter](l, english{})

	Remove[*counter](l)
	if _, ok := TryResolve[*counter](l); ok {
		t.Fatal("expected counter to be removed")
	}

	l.Reset()
	if _, ok := TryResolve[greeter](l); ok {
		t.Fatal("expected greeter to be dropped by Reset")
	}
}
