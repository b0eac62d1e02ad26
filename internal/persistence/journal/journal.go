// Package journal keeps an append-only record of grid events: region
// registrations, asset stores, routed messages, kills and backups.
//
// Records go to zstd-compressed JSON-lines segments under <data>/journal,
// named grid-YYYYMMDD-NNN.jsonl.zst. A segment is closed when the UTC day
// changes or when it holds MaxSegmentBytes of uncompressed records; a new
// process never reopens a segment written by an earlier one.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const MaxSegmentBytes = 32 << 20

// Record is one journal line. Seq increases by one per record within a
// process, so gaps show lost writes.
type Record struct {
	Seq    uint64         `json:"seq"`
	At     time.Time      `json:"at"`
	Kind   string         `json:"kind"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Journal records grid events. A nil *Journal discards everything.
type Journal struct {
	dir      string
	maxBytes int64
	now      func() time.Time

	mu      sync.Mutex
	seq     uint64
	day     string
	part    int
	written int64
	f       *os.File
	enc     *zstd.Encoder
}

func Open(dataDir string) *Journal {
	return &Journal{
		dir:      filepath.Join(dataDir, "journal"),
		maxBytes: MaxSegmentBytes,
		now:      time.Now,
	}
}

func (j *Journal) Record(kind string, fields map[string]any) error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	rec := Record{Seq: j.seq + 1, At: j.now().UTC(), Kind: kind, Fields: fields}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal %s: %w", kind, err)
	}
	line = append(line, '\n')

	day := rec.At.Format("20060102")
	if j.enc == nil || day != j.day || (j.written > 0 && j.written+int64(len(line)) > j.maxBytes) {
		if err := j.nextSegmentLocked(day); err != nil {
			return err
		}
	}
	if _, err := j.enc.Write(line); err != nil {
		return err
	}
	// Flush ends a zstd block, so a crash loses at most the record in flight.
	if err := j.enc.Flush(); err != nil {
		return err
	}
	j.seq = rec.Seq
	j.written += int64(len(line))
	return nil
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeLocked()
}

func (j *Journal) nextSegmentLocked(day string) error {
	if err := j.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return err
	}
	part := 1
	if day == j.day {
		part = j.part + 1
	} else if last, err := lastPart(j.dir, day); err != nil {
		return err
	} else {
		part = last + 1
	}
	p := filepath.Join(j.dir, SegmentName(day, part))
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	j.f, j.enc = f, enc
	j.day, j.part, j.written = day, part, 0
	return nil
}

func (j *Journal) closeLocked() error {
	var err error
	if j.enc != nil {
		err = j.enc.Close()
		j.enc = nil
	}
	if j.f != nil {
		if cerr := j.f.Close(); err == nil {
			err = cerr
		}
		j.f = nil
	}
	return err
}

func SegmentName(day string, part int) string {
	return fmt.Sprintf("grid-%s-%03d.jsonl.zst", day, part)
}

var segmentRE = regexp.MustCompile(`^grid-(\d{8})-(\d{3,})\.jsonl\.zst$`)

// lastPart is the highest segment number already on disk for day, or 0.
func lastPart(dir, day string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	last := 0
	for _, e := range entries {
		m := segmentRE.FindStringSubmatch(e.Name())
		if m == nil || m[1] != day {
			continue
		}
		if n, err := strconv.Atoi(m[2]); err == nil && n > last {
			last = n
		}
	}
	return last, nil
}
