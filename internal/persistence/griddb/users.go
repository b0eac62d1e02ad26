package griddb

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"regionsim.ai/internal/users"
)

type UserStore struct{ db *sql.DB }

var _ users.Service = (*UserStore)(nil)

const userCols = `principal_id, scope_id, first_name, last_name, email, created, user_level, user_flags`

func userNameKey(first, last string) string {
	return strings.ToLower(strings.TrimSpace(first)) + " " + strings.ToLower(strings.TrimSpace(last))
}

func scanUser(row interface{ Scan(...any) error }) (*users.UserAccount, error) {
	var (
		a         users.UserAccount
		id, scope string
	)
	if err := row.Scan(&id, &scope, &a.FirstName, &a.LastName, &a.Email, &a.Created, &a.UserLevel, &a.UserFlags); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, users.ErrNotFound
		}
		return nil, err
	}
	a.PrincipalID, _ = uuid.Parse(id)
	a.ScopeID, _ = uuid.Parse(scope)
	return &a, nil
}

func (s *UserStore) GetUserAccount(ctx context.Context, scope, id uuid.UUID) (*users.UserAccount, error) {
	q := `SELECT ` + userCols + ` FROM user_accounts WHERE principal_id = ?`
	args := []any{id.String()}
	if scope != uuid.Nil {
		q += ` AND scope_id = ?`
		args = append(args, scope.String())
	}
	return scanUser(s.db.QueryRowContext(ctx, q, args...))
}

func (s *UserStore) GetUserAccountByName(ctx context.Context, scope uuid.UUID, first, last string) (*users.UserAccount, error) {
	q := `SELECT ` + userCols + ` FROM user_accounts WHERE name_lower = ?`
	args := []any{userNameKey(first, last)}
	if scope != uuid.Nil {
		q += ` AND scope_id = ?`
		args = append(args, scope.String())
	}
	return scanUser(s.db.QueryRowContext(ctx, q+` LIMIT 1`, args...))
}

func (s *UserStore) StoreUserAccount(ctx context.Context, a users.UserAccount) error {
	if a.PrincipalID == uuid.Nil {
		return errors.New("account has no principal id")
	}
	if a.Created == 0 {
		a.Created = time.Now().Unix()
	}
	_, err := execCtx(ctx, s.db, `INSERT INTO user_accounts(`+userCols+`, name_lower)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(principal_id) DO UPDATE SET
			scope_id=excluded.scope_id, first_name=excluded.first_name, last_name=excluded.last_name,
			email=excluded.email, user_level=excluded.user_level, user_flags=excluded.user_flags,
			name_lower=excluded.name_lower`,
		a.PrincipalID.String(), a.ScopeID.String(), a.FirstName, a.LastName, a.Email, a.Created,
		a.UserLevel, a.UserFlags, userNameKey(a.FirstName, a.LastName))
	return err
}
