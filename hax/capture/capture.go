// Package capture is the engine side of the capture-agent boundary. The
// agent — a browser-driven process outside this repository — harvests key
// disclosures during playback and hands them over as batches of
// (tree node, key) pairs; this package parses those batches and feeds them
// to an extraction, optionally polling a source until coverage is complete.
package capture

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/MinasukiHikimuna/Culture-sub002/hax/extractor"
	"github.com/MinasukiHikimuna/Culture-sub002/hax/keytree"
	"github.com/sirupsen/logrus"
)

// Batch is one disclosure delivery: tree node index to key.
type Batch map[uint64]keytree.Key

// ParseKey decodes a key that is either 32 raw bytes or their 64-char hex
// encoding.
func ParseKey(raw []byte) (keytree.Key, error) {
	var key keytree.Key

	switch len(raw) {
	case keytree.KeySize:
		copy(key[:], raw)
		return key, nil

	case keytree.KeySize * 2:
		if _, err := hex.Decode(key[:], raw); err != nil {
			return keytree.Key{}, fmt.Errorf("hax: malformed hex key: %w", err)
		}
		return key, nil

	default:
		return keytree.Key{}, fmt.Errorf("hax: key is %d bytes, want %d raw or %d hex",
			len(raw), keytree.KeySize, keytree.KeySize*2)
	}
}

// ParseBatch decodes the agent's JSON disclosure format: an object mapping
// decimal node indices to hex keys.
func ParseBatch(data []byte) (Batch, error) {
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("hax: malformed disclosure batch: %w", err)
	}

	batch := make(Batch, len(entries))
	for nodeStr, keyStr := range entries {
		node, err := strconv.ParseUint(nodeStr, 10, 64)
		if err != nil || node == 0 {
			return nil, fmt.Errorf("hax: bad tree node index %q in disclosure batch", nodeStr)
		}

		key, err := ParseKey([]byte(keyStr))
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", nodeStr, err)
		}
		batch[node] = key
	}

	return batch, nil
}

// Source delivers disclosure batches. Poll returns everything disclosed so
// far; repeats are fine since insertion is idempotent.
type Source interface {
	Poll() (Batch, error)
}

// FileSource polls a JSON disclosure file that the capture agent rewrites
// as playback progresses. A missing file means nothing disclosed yet.
type FileSource struct {
	Path string
}

func (s *FileSource) Poll() (Batch, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return Batch{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseBatch(data)
}

// Await polls src until the extraction's coverage is complete or ctx is
// done. It applies every batch it sees; a ProtocolError from a batch aborts
// immediately. On context expiry it returns the context error — the caller
// still holds whatever partial coverage accumulated and can surface a
// partial result instead of blocking forever.
func Await(ctx context.Context, e *extractor.Extraction, src Source, interval time.Duration) error {
	log := logrus.WithField("segments", e.Container().SegmentCount)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		batch, err := src.Poll()
		if err != nil {
			return err
		}
		if err := e.AddKeys(batch); err != nil {
			return err
		}

		coverage := e.Coverage()
		log.WithFields(logrus.Fields{
			"disclosed": len(batch),
			"covered":   coverage.Covered,
		}).Debug("disclosure poll")

		if coverage.Complete() {
			return nil
		}

		select {
		case <-ctx.Done():
			log.WithField("covered", coverage.Covered).Warn("gave up waiting for key disclosure")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
