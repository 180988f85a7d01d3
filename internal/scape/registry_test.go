package scape

import (
	"errors"
	"reflect"
	"testing"
)

func TestDefaultRegistryListsBuiltins(t *testing.T) {
	got := DefaultRegistry().List()
	want := []string{"cart-pole-lite", "duel", "pursuit", "xor"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected scapes: got=%v want=%v", got, want)
	}
}

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	r := DefaultRegistry()
	s, err := r.Get("  XOR ")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.Name() != "xor" {
		t.Fatalf("unexpected scape: got=%s want=xor", s.Name())
	}
	if _, err := r.Get("flatland"); !errors.Is(err, ErrScapeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(XORScape{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(XORScape{}); !errors.Is(err, ErrScapeExists) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := r.Register(nil); err == nil {
		t.Fatal("expected nil scape error")
	}
}
