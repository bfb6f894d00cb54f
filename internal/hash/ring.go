// Package hash implements the consistent hash ring behind the
// cache-affinity allocation policy.
package hash

import (
	"encoding/binary"
	"slices"

	"github.com/zeebo/xxh3"
)

// Ring maps row keys to worker ids using consistent hashing, so the same
// key keeps landing on the same worker with minimal movement when the
// worker set changes.
type Ring struct {
	// nodes contains all virtual nodes on the ring, sorted by hash
	nodes []virtualNode

	// workers holds the unique worker ids present on the ring
	workers []int

	// seed for the hash function (0 means unseeded)
	seed uint64
}

// virtualNode represents a virtual node on the hash ring.
type virtualNode struct {
	hash   uint64 // Position on the ring
	worker int    // Worker owning this virtual node
}

// NewRing creates a consistent hash ring over the given workers.
//
// Parameters:
//   - workers: Worker ids to place on the ring
//   - virtualNodes: Virtual nodes per worker (higher = better distribution)
//   - seed: Hash seed; identical seeds give identical rings
//
// Returns:
//   - *Ring: Initialized hash ring
//
// Example:
//
//	ring := hash.NewRing([]int{1, 2, 3}, 150, 42)
//	worker := ring.GetNode(rowKey)
func NewRing(workers []int, virtualNodes int, seed uint64) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = 1
	}

	ring := &Ring{
		nodes:   make([]virtualNode, 0, len(workers)*virtualNodes),
		workers: make([]int, 0, len(workers)),
	}
	ring.seed = seed

	seen := make(map[int]struct{}, len(workers))
	for _, w := range workers {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		ring.workers = append(ring.workers, w)
	}

	for _, w := range ring.workers {
		ring.addWorker(w, virtualNodes)
	}

	slices.SortFunc(ring.nodes, func(a, b virtualNode) int {
		switch {
		case a.hash < b.hash:
			return -1
		case a.hash > b.hash:
			return 1
		default:
			return 0
		}
	})

	return ring
}

// GetNode returns the worker owning the given key.
//
// Returns 0 when the ring is empty; worker ids start at 1 so 0 is never a
// valid owner.
func (r *Ring) GetNode(key string) int {
	if len(r.nodes) == 0 {
		return 0
	}

	return r.getNodeByHash(r.hash([]byte(key)))
}

// Workers returns the unique worker ids on the ring.
func (r *Ring) Workers() []int {
	return r.workers
}

// Size returns the number of virtual nodes on the ring.
func (r *Ring) Size() int {
	return len(r.nodes)
}

func (r *Ring) addWorker(worker, virtualNodes int) {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(worker)) //nolint:gosec // small positive ids
	for v := 0; v < virtualNodes; v++ {
		binary.LittleEndian.PutUint64(buf[8:], uint64(v)) //nolint:gosec // small positive counter
		r.nodes = append(r.nodes, virtualNode{
			hash:   r.hash(buf[:]),
			worker: worker,
		})
	}
}

func (r *Ring) hash(key []byte) uint64 {
	if r.seed != 0 {
		return xxh3.HashSeed(key, r.seed)
	}

	return xxh3.Hash(key)
}

// getNodeByHash finds the first virtual node at or after target, wrapping
// around the ring.
func (r *Ring) getNodeByHash(target uint64) int {
	idx, _ := slices.BinarySearchFunc(r.nodes, target, func(n virtualNode, t uint64) int {
		switch {
		case n.hash < t:
			return -1
		case n.hash > t:
			return 1
		default:
			return 0
		}
	})
	if idx == len(r.nodes) {
		idx = 0
	}

	return r.nodes[idx].worker
}
