package tilecache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/model"
)

func addr(i int) model.TileAddress { return model.TileAddress{Z: 12, X: i, Y: i} }

func TestNew_RejectsNonPositiveCapacity(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

func TestGetAfterPut(t *testing.T) {
	c, err := New(DefaultCapacity)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := c.Get(addr(1)); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	c.Put(addr(1), []byte("png"))
	got, ok := c.Get(addr(1))
	if !ok || string(got) != "png" {
		t.Fatalf("Get=%q,%v want png,true", got, ok)
	}
}

func TestCapacityIsNeverExceeded(t *testing.T) {
	c, err := New(DefaultCapacity, WithPollutant("cap_test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := range 200 {
		c.Put(addr(i), []byte{byte(i)})
		if c.Len() > c.Cap() {
			t.Fatalf("len=%d exceeds cap=%d after %d puts", c.Len(), c.Cap(), i+1)
		}
	}
	if c.Len() != DefaultCapacity {
		t.Fatalf("len=%d want %d", c.Len(), DefaultCapacity)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := New(2)
	c.Put(addr(1), []byte("a"))
	c.Put(addr(2), []byte("b"))
	c.Get(addr(1))
	c.Put(addr(3), []byte("c"))

	if _, ok := c.Get(addr(2)); ok {
		t.Fatal("least recently used tile should have been evicted")
	}
	if _, ok := c.Get(addr(1)); !ok {
		t.Fatal("recently read tile was evicted")
	}
}

func TestRemoveAndPurge(t *testing.T) {
	c, _ := New(10)
	for i := range 5 {
		c.Put(addr(i), []byte("x"))
	}
	if n := c.Remove(addr(0), addr(1), addr(99)); n != 2 {
		t.Fatalf("Remove=%d want 2", n)
	}
	if c.Len() != 3 {
		t.Fatalf("len=%d want 3", c.Len())
	}
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("len=%d after purge", c.Len())
	}
}

func TestEntryRecordsInsertTime(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c, _ := New(4, WithClock(func() time.Time { return at }))
	c.Put(addr(1), []byte("x"))
	e, ok := c.Entry(addr(1))
	if !ok || !e.InsertedAt.Equal(at) {
		t.Fatalf("entry=%+v ok=%v", e, ok)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := New(8)
	var wg sync.WaitGroup
	for g := range 16 {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := range 100 {
				a := addr((g*100 + i) % 32)
				c.Put(a, []byte(fmt.Sprint(i)))
				c.Get(a)
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > c.Cap() {
		t.Fatalf("len=%d exceeds cap=%d", c.Len(), c.Cap())
	}
}
