package core

import "testing"

func TestComputeHashDeterministic(t *testing.T) {
	a := ComputeHash(RootHash, RoleUser, "hello")
	b := ComputeHash(RootHash, RoleUser, "hello")
	if a != b {
		t.Fatalf("Expected identical hashes, got %s and %s", a, b)
	}
	if a == "" {
		t.Fatal("Expected non-empty hash")
	}
}

func TestComputeHashVariesWithInputs(t *testing.T) {
	base := ComputeHash(RootHash, RoleUser, "hello")

	if ComputeHash(RootHash, RoleUser, "goodbye") == base {
		t.Fatal("Expected content to change the hash")
	}
	if ComputeHash(RootHash, RoleAssistant, "hello") == base {
		t.Fatal("Expected role to change the hash")
	}
	if ComputeHash(base, RoleUser, "hello") == base {
		t.Fatal("Expected parent to change the hash")
	}
}

func TestComputeHashChainsParent(t *testing.T) {
	// The same content under a different parent must address differently,
	// so a hash commits to its full ancestor chain.
	p1 := ComputeHash(RootHash, RoleUser, "a")
	p2 := ComputeHash(RootHash, RoleUser, "b")

	c1 := ComputeHash(p1, RoleAssistant, "reply")
	c2 := ComputeHash(p2, RoleAssistant, "reply")
	if c1 == c2 {
		t.Fatal("Expected children of different parents to differ")
	}
}

func TestEnsureHash(t *testing.T) {
	c := &Candidate{Role: RoleUser, Content: "hi", Parent: RootHash}
	h := c.EnsureHash()
	if h != ComputeHash(RootHash, RoleUser, "hi") {
		t.Fatalf("Unexpected derived hash %s", h)
	}

	// A pre-set hash is trusted as given.
	c2 := &Candidate{Role: RoleUser, Content: "hi", Hash: "preset"}
	if c2.EnsureHash() != "preset" {
		t.Fatal("Expected preset hash to be kept")
	}
}

func TestHashShort(t *testing.T) {
	h := ComputeHash(RootHash, RoleUser, "hello")
	if len(h.Short()) != 12 {
		t.Fatalf("Expected 12-char short form, got %q", h.Short())
	}
	if RootHash.Short() != "" {
		t.Fatal("Expected empty short form for root")
	}
}
