/* Copyright (c) 2018-2021 Waldemar Augustyn */

package main

import "testing"

func TestBitvectorNextUnset(t *testing.T) {

	b := NewBitvector()

	if n := b.NextUnset(); n != 0 {
		t.Fatalf("empty vector: got %v, want 0", n)
	}

	b.Set(0)
	b.Set(1)
	if n := b.NextUnset(); n != 2 {
		t.Fatalf("after setting 0,1: got %v, want 2", n)
	}

	b.Clear(0)
	if n := b.NextUnset(); n != 0 {
		t.Fatalf("after clearing 0: got %v, want 0", n)
	}
}

func TestBitvectorStaticNeverCleared(t *testing.T) {

	b := NewBitvector()
	b.SetStatic(3)

	if !b.Test(3) {
		t.Fatalf("static bit should read set")
	}
	b.Clear(3)
	if !b.Test(3) {
		t.Fatalf("static bit should survive Clear")
	}
}

func TestBitvectorIsStatic(t *testing.T) {

	b := NewBitvector()
	if b.IsStatic(3) {
		t.Fatalf("bit 3 should not be static before SetStatic")
	}
	b.SetStatic(3)
	if !b.IsStatic(3) {
		t.Fatalf("bit 3 should be static after SetStatic")
	}
	if b.IsStatic(4) {
		t.Fatalf("bit 4 should not be static")
	}
}

func TestBitvectorGrowsAcrossWords(t *testing.T) {

	b := NewBitvector()
	for i := 0; i < 64; i++ {
		b.Set(i)
	}
	if n := b.NextUnset(); n != 64 {
		t.Fatalf("after filling first word: got %v, want 64", n)
	}
}
