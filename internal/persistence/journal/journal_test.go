package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"
)

func readSegment(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()
	var out []Record
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func kinds(rs []Record) []string {
	var out []string
	for _, r := range rs {
		out = append(out, r.Kind)
	}
	return out
}

func TestJournal_RotatesAtMidnight(t *testing.T) {
	dir := t.TempDir()
	j := Open(dir)
	clock := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	j.now = func() time.Time { return clock }

	if err := j.Record("region.register", map[string]any{"name": "West"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	clock = clock.Add(30 * time.Minute)
	if err := j.Record("asset.store", map[string]any{"id": "x"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	first := readSegment(t, filepath.Join(dir, "journal", SegmentName("20260301", 1)))
	second := readSegment(t, filepath.Join(dir, "journal", SegmentName("20260302", 1)))
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("segments: %+v %+v", first, second)
	}
	if first[0].Kind != "region.register" || first[0].Fields["name"] != "West" || first[0].Seq != 1 {
		t.Fatalf("first record: %+v", first[0])
	}
	if second[0].Seq != 2 || !second[0].At.Equal(clock) {
		t.Fatalf("second record: %+v", second[0])
	}
}

func TestJournal_RotatesBySize(t *testing.T) {
	dir := t.TempDir()
	j := Open(dir)
	j.maxBytes = 200
	pad := strings.Repeat("x", 80)
	for i := 0; i < 5; i++ {
		if err := j.Record("im.route", map[string]any{"pad": pad}); err != nil {
			t.Fatal(err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	files, _ := filepath.Glob(filepath.Join(dir, "journal", "grid-*.jsonl.zst"))
	if len(files) < 3 {
		t.Fatalf("expected size rotation, got %v", files)
	}
	var seqs []uint64
	for _, f := range files {
		for _, r := range readSegment(t, f) {
			seqs = append(seqs, r.Seq)
		}
	}
	if diff := cmp.Diff([]uint64{1, 2, 3, 4, 5}, seqs); diff != "" {
		t.Fatalf("seq (-want +got):\n%s", diff)
	}
}

func TestJournal_RestartStartsNewSegment(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, kind := range []string{"backup.written", "combat.killed"} {
		j := Open(dir)
		j.now = func() time.Time { return clock }
		if err := j.Record(kind, nil); err != nil {
			t.Fatal(err)
		}
		if err := j.Close(); err != nil {
			t.Fatal(err)
		}
	}
	got := append(
		kinds(readSegment(t, filepath.Join(dir, "journal", SegmentName("20260301", 1)))),
		kinds(readSegment(t, filepath.Join(dir, "journal", SegmentName("20260301", 2))))...)
	if diff := cmp.Diff([]string{"backup.written", "combat.killed"}, got); diff != "" {
		t.Fatalf("kinds (-want +got):\n%s", diff)
	}
}

func TestJournal_NilIsNoop(t *testing.T) {
	var j *Journal
	if err := j.Record("x", nil); err != nil {
		t.Fatalf("nil record: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
