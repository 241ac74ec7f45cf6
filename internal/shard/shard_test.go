package shard

import (
	"fmt"
	"testing"

	"github.com/jra3/contexthub/internal/errs"
)

func activeShard(id uint32) Info {
	return Info{ID: id, Address: fmt.Sprintf("10.0.0.%d:9000", id), Status: Active, Capacity: 1000}
}

func TestRouteUserDeterministic(t *testing.T) {
	t.Parallel()
	r := New()
	r.Register(activeShard(1))
	r.Register(activeShard(2))
	r.Register(activeShard(3))

	first, err := r.RouteUser("user-42")
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.RouteUser("user-42")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("RouteUser not stable across calls: %d vs %d", first, second)
	}
}

func TestRouteUserSkipsNonServingShard(t *testing.T) {
	t.Parallel()
	r := New()
	r.Register(activeShard(1))
	r.Register(activeShard(2))

	// Find a user whose primary landing shard is 1, then take it offline.
	var target string
	var landsOn uint32
	for i := 0; i < 1000; i++ {
		u := fmt.Sprintf("probe-%d", i)
		shardID, err := r.RouteUser(u)
		if err != nil {
			t.Fatal(err)
		}
		if shardID != 1 {
			continue
		}
		target = u
		landsOn = shardID
		break
	}
	if err := r.UpdateShardStatus(landsOn, Offline); err != nil {
		t.Fatal(err)
	}

	got, err := r.RouteUser(target)
	if err != nil {
		t.Fatal(err)
	}
	if got == landsOn {
		t.Fatalf("expected routing to skip offline shard %d, still got it", landsOn)
	}
}

func TestRouteUserNoActiveShard(t *testing.T) {
	t.Parallel()
	r := New()
	r.Register(activeShard(1))
	if err := r.UpdateShardStatus(1, Offline); err != nil {
		t.Fatal(err)
	}
	_, err := r.RouteUser("anyone")
	if !errs.Is(err, errs.Unavailable) {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}

func TestUpdateShardStatusRemovesAndReinsertsVirtualNodes(t *testing.T) {
	t.Parallel()
	r := New()
	r.Register(activeShard(1))
	if r.RingSize() != VirtualNodes {
		t.Fatalf("RingSize() = %d, want %d", r.RingSize(), VirtualNodes)
	}

	if err := r.UpdateShardStatus(1, Draining); err != nil {
		t.Fatal(err)
	}
	if r.RingSize() != 0 {
		t.Fatalf("RingSize() after draining = %d, want 0", r.RingSize())
	}

	if err := r.UpdateShardStatus(1, Active); err != nil {
		t.Fatal(err)
	}
	if r.RingSize() != VirtualNodes {
		t.Fatalf("RingSize() after reactivating = %d, want %d", r.RingSize(), VirtualNodes)
	}
}

func TestUnregisterRemovesRingEntries(t *testing.T) {
	t.Parallel()
	r := New()
	r.Register(activeShard(1))
	r.Register(activeShard(2))
	before := r.RingSize()
	r.Unregister(1)
	if r.RingSize() != before-VirtualNodes {
		t.Fatalf("RingSize() after unregister = %d, want %d", r.RingSize(), before-VirtualNodes)
	}
}

func TestRouteSharedDedupes(t *testing.T) {
	t.Parallel()
	r := New()
	r.Register(activeShard(1))
	r.Register(activeShard(2))
	r.Register(activeShard(3))

	shards, err := r.RouteShared([]string{"alice", "bob", "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(shards) == 0 || len(shards) > 2 {
		t.Fatalf("expected 1 or 2 distinct shards for two distinct users, got %v", shards)
	}
}

func TestDistributionWithinBounds(t *testing.T) {
	t.Parallel()
	r := New()
	for i := uint32(1); i <= 5; i++ {
		r.Register(activeShard(i))
	}

	counts := make(map[uint32]int)
	const users = 10000
	for i := 0; i < users; i++ {
		shardID, err := r.RouteUser(fmt.Sprintf("user-%d", i))
		if err != nil {
			t.Fatal(err)
		}
		counts[shardID]++
	}

	for shardID, count := range counts {
		if count < 1600 || count > 2400 {
			t.Fatalf("shard %d got %d users, want within [1600, 2400]", shardID, count)
		}
	}
}

func TestAddingShardMovesFewKeys(t *testing.T) {
	t.Parallel()
	r := New()
	r.Register(activeShard(1))
	r.Register(activeShard(2))
	r.Register(activeShard(3))

	users := make([]string, 100)
	before := make(map[string]uint32, 100)
	for i := range users {
		users[i] = fmt.Sprintf("stable-user-%d", i)
		shardID, err := r.RouteUser(users[i])
		if err != nil {
			t.Fatal(err)
		}
		before[users[i]] = shardID
	}

	r.Register(activeShard(4))

	moved := 0
	for _, u := range users {
		shardID, err := r.RouteUser(u)
		if err != nil {
			t.Fatal(err)
		}
		if shardID != before[u] {
			moved++
		}
	}
	if moved >= 35 {
		t.Fatalf("adding a 4th shard moved %d/100 users, want < 35", moved)
	}
}
