// Package keytree reconstructs per-segment keys from a sparse set of
// disclosed nodes of a binary KDF tree.
//
// Node 1 is the root; node n has children 2n and 2n+1. A child key is
// SHA-256 of the parent key followed by a single branch byte (0 left,
// 1 right), so knowing any node's key yields every key below it. The
// capture agent discloses one near-root node for short content (full grant)
// or a series of disjoint subtree roots for long content (progressive
// grant); either way the tree derives whatever is reachable and reports
// which segments are still locked.
package keytree

import (
	"crypto/sha256"
	"fmt"
	"math/bits"
)

// KeySize is the size in bytes of every tree node key.
const KeySize = 32

// Key is one 256-bit tree node key.
type Key [KeySize]byte

// ProtocolError reports a disclosure that contradicts an already-known node.
// The key of a node never changes, so a conflict means the disclosure source
// is unreliable and the extraction must not continue.
type ProtocolError struct {
	Node   uint64
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("hax: disclosure protocol violation at node %d: %s", e.Node, e.Reason)
}

// KeyUnavailableError reports that no ancestor of the requested node is
// known. It is routine for progressive-grant content: the caller waits for
// more disclosure and retries.
type KeyUnavailableError struct {
	Node uint64
}

func (e *KeyUnavailableError) Error() string {
	return fmt.Sprintf("hax: no known ancestor for tree node %d", e.Node)
}

// KeyTree accumulates disclosed and derived node keys for one extraction.
// The map only grows, and a node's key is immutable once present. A KeyTree
// must not be shared across extractions.
type KeyTree struct {
	nodes map[uint64]Key
}

// New returns an empty tree.
func New() *KeyTree {
	return &KeyTree{nodes: map[uint64]Key{}}
}

// Len returns the number of known nodes, disclosed and derived.
func (t *KeyTree) Len() int {
	return len(t.nodes)
}

// Known reports whether the node's key is already in the map. It does not
// attempt derivation.
func (t *KeyTree) Known(node uint64) bool {
	_, ok := t.nodes[node]
	return ok
}

// Insert records a disclosed node key. Re-inserting the same pair is a
// no-op; a different key for a known node is a ProtocolError.
func (t *KeyTree) Insert(node uint64, key Key) error {
	if node == 0 {
		return &ProtocolError{Node: node, Reason: "node indices start at 1"}
	}

	if existing, ok := t.nodes[node]; ok {
		if existing != key {
			return &ProtocolError{Node: node, Reason: "conflicting key for known node"}
		}
		return nil
	}

	t.nodes[node] = key
	return nil
}

// Derive returns the key for any node, computing it from the nearest known
// ancestor when it is not directly known. Every node on the derivation path
// is memoized, so repeated derivation during progressive disclosure does not
// repeat hashing.
func (t *KeyTree) Derive(node uint64) (Key, error) {
	if node == 0 {
		return Key{}, &KeyUnavailableError{Node: node}
	}

	if key, ok := t.nodes[node]; ok {
		return key, nil
	}

	// Walk up until a known ancestor is found.
	anc := node
	for anc > 1 {
		anc >>= 1
		if t.Known(anc) {
			break
		}
	}
	key, ok := t.nodes[anc]
	if !ok {
		return Key{}, &KeyUnavailableError{Node: node}
	}

	// Hash back down along node's address bits, caching each level.
	for shift := depth(node) - depth(anc); shift > 0; shift-- {
		child := node >> (shift - 1)
		key = childKey(key, byte(child&1))
		t.nodes[child] = key
	}

	return key, nil
}

// IsCovered reports whether the given segment's leaf key is currently
// derivable. It walks the ancestor chain without hashing anything.
func (t *KeyTree) IsCovered(segment, segmentCount int) bool {
	for n := SegmentNode(segmentCount, segment); n >= 1; n >>= 1 {
		if t.Known(n) {
			return true
		}
	}
	return false
}

// Coverage summarizes which segments are currently derivable.
type Coverage struct {
	SegmentCount int
	Covered      int
	Uncovered    []int
}

// Complete reports whether every segment is derivable.
func (c Coverage) Complete() bool {
	return c.Covered == c.SegmentCount
}

// CoverageReport computes the current coverage for a stream of segmentCount
// segments. Coverage is monotonic: inserting more nodes never uncovers a
// segment.
func (t *KeyTree) CoverageReport(segmentCount int) Coverage {
	report := Coverage{SegmentCount: segmentCount}
	for i := 0; i < segmentCount; i++ {
		if t.IsCovered(i, segmentCount) {
			report.Covered++
		} else {
			report.Uncovered = append(report.Uncovered, i)
		}
	}
	return report
}

// TreeDepth is the depth of the key-distribution tree for a stream of
// segmentCount segments: ceil(log2(segmentCount)).
func TreeDepth(segmentCount int) uint {
	return uint(bits.Len64(uint64(segmentCount) - 1))
}

// SegmentKeyBase is the node index of segment 0's leaf. Segment leaves sit
// one level below the deepest distribution level, so a single disclosed
// ancestor covers a contiguous power-of-two run of segments.
func SegmentKeyBase(segmentCount int) uint64 {
	return 1 + 1<<(TreeDepth(segmentCount)+1)
}

// SegmentNode is the leaf node index for segment i.
func SegmentNode(segmentCount, i int) uint64 {
	return SegmentKeyBase(segmentCount) + uint64(i)
}

// depth of a node: floor(log2(n)), with the root at depth 0.
func depth(n uint64) uint {
	return uint(bits.Len64(n)) - 1
}

func childKey(parent Key, branch byte) Key {
	var buf [KeySize + 1]byte
	copy(buf[:], parent[:])
	buf[KeySize] = branch
	return sha256.Sum256(buf[:])
}
