package griddb

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"regionsim.ai/internal/grid"
)

type RegionStore struct{ db *sql.DB }

var _ grid.Store = (*RegionStore)(nil)

const regionCols = `id, scope_id, name, loc_x, loc_y, size_x, size_y, server_uri, external_host, http_port, flags, owner_id, token`

func scanRegion(row interface{ Scan(...any) error }) (grid.RegionData, error) {
	var (
		r                grid.RegionData
		id, scope, owner string
		flags            int64
	)
	if err := row.Scan(&id, &scope, &r.Name, &r.LocX, &r.LocY, &r.SizeX, &r.SizeY,
		&r.ServerURI, &r.ExternalHost, &r.HTTPPort, &flags, &owner, &r.Token); err != nil {
		return grid.RegionData{}, err
	}
	r.ID, _ = uuid.Parse(id)
	r.ScopeID, _ = uuid.Parse(scope)
	if owner != "" {
		r.OwnerID, _ = uuid.Parse(owner)
	}
	r.Flags = grid.RegionFlags(flags)
	return r, nil
}

func (s *RegionStore) Get(ctx context.Context, id uuid.UUID) (grid.RegionData, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+regionCols+` FROM regions WHERE id = ?`, id.String())
	r, err := scanRegion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return grid.RegionData{}, grid.ErrRegionNotFound
	}
	return r, err
}

func (s *RegionStore) List(ctx context.Context, scope uuid.UUID) ([]grid.RegionData, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+regionCols+` FROM regions WHERE scope_id = ? ORDER BY name`, scope.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []grid.RegionData
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *RegionStore) Put(ctx context.Context, r grid.RegionData) error {
	owner := ""
	if r.OwnerID != uuid.Nil {
		owner = r.OwnerID.String()
	}
	_, err := execCtx(ctx, s.db, `INSERT INTO regions(`+regionCols+`, name_lower)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			scope_id=excluded.scope_id, name=excluded.name, name_lower=excluded.name_lower,
			loc_x=excluded.loc_x, loc_y=excluded.loc_y, size_x=excluded.size_x, size_y=excluded.size_y,
			server_uri=excluded.server_uri, external_host=excluded.external_host, http_port=excluded.http_port,
			flags=excluded.flags, owner_id=excluded.owner_id, token=excluded.token`,
		r.ID.String(), r.ScopeID.String(), r.Name, r.LocX, r.LocY, r.SizeX, r.SizeY,
		r.ServerURI, r.ExternalHost, r.HTTPPort, int64(r.Flags), owner, r.Token,
		strings.ToLower(r.Name))
	return err
}

func (s *RegionStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := execCtx(ctx, s.db, `DELETE FROM regions WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return grid.ErrRegionNotFound
	}
	return nil
}
