// Package extractor decrypts a parsed HAX container using a key tree and
// reassembles the plaintext segments into a contiguous audio stream.
//
// One Extraction owns one container and one key tree. Disclosure may arrive
// in batches over the lifetime of the extraction; Resume picks up at the
// first undecrypted segment each time, so already-decrypted work is never
// redone.
package extractor

import (
	"errors"
	"fmt"

	"github.com/MinasukiHikimuna/Culture-sub002/hax/container"
	"github.com/MinasukiHikimuna/Culture-sub002/hax/keytree"
)

// Status is the coarse extraction state.
type Status int

const (
	// StatusParsed means the container parsed and no decryption has run yet.
	StatusParsed Status = iota
	// StatusDecrypting means a Resume call is walking the segment table.
	StatusDecrypting
	// StatusComplete means every segment decrypted.
	StatusComplete
	// StatusPartial means decryption stopped at a segment whose key is not
	// yet derivable. More disclosure may unblock it.
	StatusPartial
	// StatusFatal means the extraction cannot continue: an authentication
	// failure or a disclosure protocol violation.
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusParsed:
		return "parsed"
	case StatusDecrypting:
		return "decrypting"
	case StatusComplete:
		return "complete"
	case StatusPartial:
		return "partial"
	case StatusFatal:
		return "fatal"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result reports the outcome of one decryption pass. Segments holds the
// plaintext of the decrypted prefix in index order.
type Result struct {
	DecryptedSegments int
	TotalSegments     int
	Segments          [][]byte

	// BlockingNode is the tree node that could not be derived when Err is a
	// KeyUnavailableError, so the caller can target further disclosure.
	BlockingNode uint64

	// Err is nil on a complete extraction.
	Err error
}

// Complete reports whether every segment was decrypted.
func (r *Result) Complete() bool {
	return r.Err == nil && r.DecryptedSegments == r.TotalSegments
}

// Extraction is the per-container decryption session. It is not safe for
// concurrent use; run concurrent extractions on separate Extractions.
type Extraction struct {
	c      *container.Container
	keys   *keytree.KeyTree
	status Status

	// Decrypted plaintext prefix, cached across Resume calls.
	segments [][]byte
	next     int
	err      error
}

// New parses a container buffer and prepares an extraction with an empty
// key tree. A FormatError from the parser is returned as-is and is fatal.
func New(buf []byte) (*Extraction, error) {
	c, err := container.Parse(buf)
	if err != nil {
		return nil, err
	}
	return &Extraction{c: c, keys: keytree.New(), status: StatusParsed}, nil
}

// Container returns the parsed container.
func (e *Extraction) Container() *container.Container {
	return e.c
}

// Keys returns the extraction's key tree.
func (e *Extraction) Keys() *keytree.KeyTree {
	return e.keys
}

// Status returns the current extraction state.
func (e *Extraction) Status() Status {
	return e.status
}

// Err returns the error that put the extraction in StatusPartial or
// StatusFatal, or nil.
func (e *Extraction) Err() error {
	return e.err
}

// UseBaseKey seeds the key tree with the container's base key as tree node
// 1, which is the whole of the disclosure for full-grant content.
func (e *Extraction) UseBaseKey() error {
	return e.keys.Insert(1, keytree.Key(e.c.BaseKey))
}

// AddKeys applies a disclosure batch to the key tree. A ProtocolError makes
// the extraction fatal.
func (e *Extraction) AddKeys(batch map[uint64]keytree.Key) error {
	for node, key := range batch {
		if err := e.keys.Insert(node, key); err != nil {
			e.status = StatusFatal
			e.err = err
			return err
		}
	}
	return nil
}

// Coverage reports which segments are currently derivable.
func (e *Extraction) Coverage() keytree.Coverage {
	return e.keys.CoverageReport(e.c.SegmentCount)
}

// Resume decrypts from the first undecrypted segment as far as the key tree
// allows. It may be called repeatedly as disclosure progresses; each call
// returns a snapshot of overall progress. After a fatal failure Resume
// keeps returning the same failed result.
func (e *Extraction) Resume() *Result {
	if e.status == StatusFatal {
		return e.result()
	}

	e.status = StatusDecrypting
	total := e.c.SegmentCount

	for e.next < total {
		info := e.c.Segments[e.next]

		// A zero-size slot carries no ciphertext, so there is nothing to
		// authenticate and no key to derive.
		if info.Size == 0 {
			e.segments = append(e.segments, []byte{})
			e.next++
			continue
		}

		node := keytree.SegmentNode(total, e.next)
		key, err := e.keys.Derive(node)
		if err != nil {
			e.status = StatusPartial
			e.err = err
			return e.result()
		}

		plaintext, err := decryptSegment(e.next, key, e.c.SegmentData(e.next))
		if err != nil {
			e.status = StatusFatal
			e.err = err
			return e.result()
		}

		e.segments = append(e.segments, plaintext)
		e.next++
	}

	e.status = StatusComplete
	e.err = nil
	return e.result()
}

func (e *Extraction) result() *Result {
	r := &Result{
		DecryptedSegments: e.next,
		TotalSegments:     e.c.SegmentCount,
		Segments:          e.segments,
		Err:               e.err,
	}

	var unavailable *keytree.KeyUnavailableError
	if errors.As(e.err, &unavailable) {
		r.BlockingNode = unavailable.Node
	}
	return r
}

// DecryptAll runs a single decryption pass over an already-parsed container
// with an externally populated key tree.
func DecryptAll(c *container.Container, keys *keytree.KeyTree) *Result {
	e := &Extraction{c: c, keys: keys, status: StatusParsed}
	return e.Resume()
}
