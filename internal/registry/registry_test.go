package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/dignifiedquire/iroh-drop/internal/protocol"
)

func testID(seed string) protocol.NodeID {
	var id protocol.NodeID
	copy(id[:], seed)
	return id
}

func TestUpsertAndGet(t *testing.T) {
	r := New()
	id := testID("peer1")

	if r.Contains(id) {
		t.Error("Contains should be false before upsert")
	}
	if _, ok := r.Get(id); ok {
		t.Error("Get should miss before upsert")
	}

	r.Upsert(id, "Alice")

	if !r.Contains(id) {
		t.Error("Contains should be true after upsert")
	}
	node, ok := r.Get(id)
	if !ok {
		t.Fatal("Get should hit after upsert")
	}
	if node.Name != "Alice" {
		t.Errorf("Expected name Alice, got %q", node.Name)
	}
}

func TestUpsertLastWriteWins(t *testing.T) {
	r := New()
	id := testID("peer1")

	r.Upsert(id, "Alice")
	r.Upsert(id, "Alicia")

	node, _ := r.Get(id)
	if node.Name != "Alicia" {
		t.Errorf("Expected overwritten name Alicia, got %q", node.Name)
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", r.Len())
	}
}

func TestConcurrentUpserts(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := testID(fmt.Sprintf("peer-%d", i%10))
			r.Upsert(id, fmt.Sprintf("name-%d", i))
			r.Contains(id)
			r.Get(id)
		}(i)
	}
	wg.Wait()

	if r.Len() != 10 {
		t.Errorf("Expected 10 entries, got %d", r.Len())
	}
}
