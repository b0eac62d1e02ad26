package griddb

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"regionsim.ai/internal/scene"
)

// OfflineIMStore keeps instant messages for agents that were not logged in.
type OfflineIMStore struct {
	db     *sql.DB
	logger *log.Logger
}

func (s *OfflineIMStore) SaveOffline(ctx context.Context, msg scene.InstantMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = execCtx(ctx, s.db, `INSERT INTO offline_ims(to_agent, saved_at, payload) VALUES(?,?,?)`,
		msg.ToAgentID.String(), time.Now().Unix(), string(b))
	return err
}

// TakeOffline returns and removes every message queued for agent, oldest
// first. Rows that no longer decode are logged and left in the table.
func (s *OfflineIMStore) TakeOffline(ctx context.Context, agent uuid.UUID) ([]scene.InstantMessage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT seq, payload FROM offline_ims WHERE to_agent = ? ORDER BY seq`, agent.String())
	if err != nil {
		return nil, err
	}
	var (
		out   []scene.InstantMessage
		taken []int64
	)
	for rows.Next() {
		var (
			seq int64
			raw string
		)
		if err := rows.Scan(&seq, &raw); err != nil {
			rows.Close()
			return nil, err
		}
		var m scene.InstantMessage
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			s.logger.Printf("offline im %d for %s: undecodable payload kept: %v", seq, agent, err)
			continue
		}
		out = append(out, m)
		taken = append(taken, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, seq := range taken {
		if _, err := tx.ExecContext(ctx, `DELETE FROM offline_ims WHERE seq = ?`, seq); err != nil {
			return nil, err
		}
	}
	return out, tx.Commit()
}
