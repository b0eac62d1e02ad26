// Package archive writes and reads asset sets as tar streams.
//
// An archive holds one metadata file (assets.json) and one data entry per
// asset under assets/, named by id plus the type's extension. Entries may
// appear in any order; the dearchiver reconciles data and metadata. When an
// asset's data appears more than once the first entry wins and the rest are
// reported as skipped.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"regionsim.ai/internal/assets"
)

const (
	MetadataFile = "assets.json"
	AssetsDir    = "assets/"
)

type Compression int

const (
	None Compression = iota
	Gzip
	Zstd
)

// CompressionForName picks compression from a file name suffix.
func CompressionForName(name string) Compression {
	switch {
	case strings.HasSuffix(name, ".zst"), strings.HasSuffix(name, ".zstd"):
		return Zstd
	case strings.HasSuffix(name, ".gz"), strings.HasSuffix(name, ".tgz"):
		return Gzip
	default:
		return None
	}
}

// metadataEntry is one record of assets.json.
type metadataEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        int8   `json:"type"`
	ContentType string `json:"content_type,omitempty"`
	CreatorID   string `json:"creator_id,omitempty"`
	Flags       int    `json:"flags,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	Filename    string `json:"filename"`
}

// Writer emits an asset archive. Close must be called to flush.
type Writer struct {
	tw      *tar.Writer
	closers []io.Closer
	now     func() time.Time
}

func NewWriter(w io.Writer, c Compression) (*Writer, error) {
	aw := &Writer{now: time.Now}
	switch c {
	case Gzip:
		gz := gzip.NewWriter(w)
		aw.closers = append(aw.closers, gz)
		w = gz
	case Zstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, err
		}
		aw.closers = append(aw.closers, enc)
		w = enc
	}
	aw.tw = tar.NewWriter(w)
	return aw, nil
}

// WriteFile adds an arbitrary entry, e.g. region.json alongside assets.
func (w *Writer) WriteFile(name string, data []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  w.now().UTC(),
		Typeflag: tar.TypeReg,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := w.tw.Write(data)
	return err
}

// WriteAssets writes the metadata file followed by data entries sorted by id.
func (w *Writer) WriteAssets(list []*assets.Asset) error {
	sorted := append([]*assets.Asset(nil), list...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Metadata.ID.String() < sorted[j].Metadata.ID.String()
	})
	meta := make(map[string]metadataEntry, len(sorted))
	for _, a := range sorted {
		m := a.Metadata
		e := metadataEntry{
			Name:        m.Name,
			Description: m.Description,
			Type:        int8(m.Type),
			ContentType: m.ContentType,
			CreatorID:   m.CreatorID,
			Flags:       int(m.Flags),
			Filename:    DataFileName(m.ID, m.Type),
		}
		if !m.CreatedAt.IsZero() {
			e.CreatedAt = m.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
		meta[m.ID.String()] = e
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := w.WriteFile(MetadataFile, b); err != nil {
		return err
	}
	for _, a := range sorted {
		if err := w.WriteFile(AssetsDir+DataFileName(a.Metadata.ID, a.Metadata.Type), a.Data); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) Close() error {
	err := w.tw.Close()
	for i := len(w.closers) - 1; i >= 0; i-- {
		if cerr := w.closers[i].Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func DataFileName(id uuid.UUID, t assets.AssetType) string {
	return id.String() + t.Extension()
}

// OpenReader detects compression by magic bytes and returns a tar reader.
func OpenReader(r io.Reader) (*tar.Reader, func(), error) {
	br := bufio.NewReader(r)
	magic, _ := br.Peek(4)
	switch {
	case len(magic) >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return tar.NewReader(gz), func() { _ = gz.Close() }, nil
	case bytes.Equal(magic, []byte{0x28, 0xb5, 0x2f, 0xfd}):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return tar.NewReader(dec), dec.Close, nil
	default:
		return tar.NewReader(br), func() {}, nil
	}
}

// Result summarizes one Dearchive run.
type Result struct {
	Loaded  int
	Skipped []string
	Missing []uuid.UUID
	Other   map[string][]byte
}

// Dearchiver loads an asset archive into a store.
type Dearchiver struct {
	store assets.Service
	log   *log.Logger

	// KeepOther retains non-asset entries (e.g. region.json) in Result.Other.
	KeepOther bool

	metadata map[string]metadataEntry
	loaded   map[string]bool // by asset id
	pending  map[string][]byte
}

func NewDearchiver(store assets.Service, logger *log.Logger) *Dearchiver {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dearchiver{store: store, log: logger}
}

// Dearchive reads the whole archive. Data entries that precede the metadata
// file are held until it arrives, then resolved together.
func (d *Dearchiver) Dearchive(ctx context.Context, r io.Reader) (Result, error) {
	tr, closeFn, err := OpenReader(r)
	if err != nil {
		return Result{}, err
	}
	defer closeFn()

	d.metadata = nil
	d.loaded = map[string]bool{}
	d.pending = map[string][]byte{}
	res := Result{}
	if d.KeepOther {
		res.Other = map[string][]byte{}
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Clean(strings.TrimPrefix(hdr.Name, "./"))
		data, err := io.ReadAll(tr)
		if err != nil {
			return res, fmt.Errorf("read %s: %w", name, err)
		}

		switch {
		case name == MetadataFile:
			if err := d.loadMetadata(data); err != nil {
				return res, err
			}
			for fn, buf := range d.pending {
				if err := d.resolve(ctx, fn, buf, &res); err != nil {
					return res, err
				}
			}
			d.pending = map[string][]byte{}
		case strings.HasPrefix(name, AssetsDir):
			fn := strings.TrimPrefix(name, AssetsDir)
			if d.metadata == nil {
				if _, dup := d.pending[fn]; dup {
					d.log.Printf("dearchive: duplicate entry %s; keeping the first", fn)
					res.Skipped = append(res.Skipped, fn)
					continue
				}
				d.pending[fn] = data
				continue
			}
			if err := d.resolve(ctx, fn, data, &res); err != nil {
				return res, err
			}
		default:
			if res.Other != nil {
				res.Other[name] = data
			}
		}
	}

	for fn := range d.pending {
		d.log.Printf("dearchive: %s has no metadata (assets.json missing)", fn)
		res.Skipped = append(res.Skipped, fn)
	}
	for id := range d.metadata {
		if !d.loaded[id] {
			if u, err := uuid.Parse(id); err == nil {
				res.Missing = append(res.Missing, u)
			}
		}
	}
	sort.Strings(res.Skipped)
	sort.Slice(res.Missing, func(i, j int) bool { return res.Missing[i].String() < res.Missing[j].String() })
	return res, nil
}

func (d *Dearchiver) loadMetadata(b []byte) error {
	var m map[string]metadataEntry
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("decode %s: %w", MetadataFile, err)
	}
	d.metadata = m
	return nil
}

func (d *Dearchiver) resolve(ctx context.Context, filename string, data []byte, res *Result) error {
	idStr := filename
	if i := strings.Index(filename, "_"); i > 0 {
		idStr = filename[:i]
	}
	e, ok := d.metadata[idStr]
	if ok && d.loaded[idStr] {
		d.log.Printf("dearchive: duplicate entry %s; keeping the first", filename)
		res.Skipped = append(res.Skipped, filename)
		return nil
	}
	if !ok || e.Filename != filename {
		d.log.Printf("dearchive: data %s has no corresponding metadata; skipping", filename)
		res.Skipped = append(res.Skipped, filename)
		return nil
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		res.Skipped = append(res.Skipped, filename)
		return nil
	}
	a := &assets.Asset{
		Metadata: assets.AssetMetadata{
			ID:          id,
			Name:        e.Name,
			Description: e.Description,
			Type:        assets.AssetType(e.Type),
			ContentType: e.ContentType,
			CreatorID:   e.CreatorID,
			Flags:       assets.AssetFlags(e.Flags),
		},
		Data: data,
	}
	if e.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, e.CreatedAt); err == nil {
			a.Metadata.CreatedAt = t
		}
	}
	if _, err := d.store.Store(ctx, a); err != nil {
		if errors.Is(err, assets.ErrEmptyData) {
			d.log.Printf("dearchive: %s is empty; skipping", filename)
			res.Skipped = append(res.Skipped, filename)
			return nil
		}
		return fmt.Errorf("store %s: %w", id, err)
	}
	d.loaded[idStr] = true
	res.Loaded++
	return nil
}
