package griddb

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"regionsim.ai/internal/assets"
)

type AssetStore struct{ db *sql.DB }

var _ assets.Service = (*AssetStore)(nil)

const assetMetaCols = `id, name, description, type, content_type, local, temporary, creator_id, flags, created_at, sha256`

func (s *AssetStore) query(ctx context.Context, id uuid.UUID, withData bool) (*assets.Asset, error) {
	var (
		a       assets.Asset
		rawID   string
		created int64
	)
	m := &a.Metadata
	dest := []any{&rawID, &m.Name, &m.Description, &m.Type, &m.ContentType, &m.Local, &m.Temporary,
		&m.CreatorID, &m.Flags, &created, &m.SHA256}
	cols := assetMetaCols
	if withData {
		cols += `, data`
		dest = append(dest, &a.Data)
	}
	err := s.db.QueryRowContext(ctx, `SELECT `+cols+` FROM assets WHERE id = ?`, id.String()).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, assets.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.ID, _ = uuid.Parse(rawID)
	m.CreatedAt = time.Unix(0, created).UTC()
	return &a, nil
}

func (s *AssetStore) Get(ctx context.Context, id uuid.UUID) (*assets.Asset, error) {
	return s.query(ctx, id, true)
}

func (s *AssetStore) GetMetadata(ctx context.Context, id uuid.UUID) (*assets.AssetMetadata, error) {
	a, err := s.query(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return &a.Metadata, nil
}

func (s *AssetStore) GetData(ctx context.Context, id uuid.UUID) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM assets WHERE id = ?`, id.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, assets.ErrNotFound
	}
	return data, err
}

func (s *AssetStore) Store(ctx context.Context, a *assets.Asset) (uuid.UUID, error) {
	if err := assets.Prepare(a, time.Now()); err != nil {
		return uuid.Nil, err
	}
	m := a.Metadata
	_, err := execCtx(ctx, s.db, `INSERT INTO assets(`+assetMetaCols+`, data)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, description=excluded.description, type=excluded.type,
			content_type=excluded.content_type, local=excluded.local, temporary=excluded.temporary,
			creator_id=excluded.creator_id, flags=excluded.flags, sha256=excluded.sha256, data=excluded.data`,
		m.ID.String(), m.Name, m.Description, int(m.Type), m.ContentType, m.Local, m.Temporary,
		m.CreatorID, int(m.Flags), m.CreatedAt.UnixNano(), m.SHA256, a.Data)
	if err != nil {
		return uuid.Nil, err
	}
	return m.ID, nil
}

func (s *AssetStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := execCtx(ctx, s.db, `DELETE FROM assets WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return assets.ErrNotFound
	}
	return nil
}

func (s *AssetStore) AssetsExist(ctx context.Context, ids []uuid.UUID) ([]bool, error) {
	out := make([]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	q := `SELECT id FROM assets WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, id := range ids {
		out[i] = found[id.String()]
	}
	return out, nil
}

// IDs lists every stored asset id, oldest first. Temporary assets are skipped.
func (s *AssetStore) IDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM assets WHERE temporary = 0 ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
