package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// GetSetting reads one settings row. Missing keys return NotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.q.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", types.NewError(types.KindNotFound, types.CodeNotFound, "setting not found: "+key)
	}
	if err != nil {
		return "", wrapDBErrorf(err, "get setting %s", key)
	}
	return value, nil
}

// SetSetting upserts one settings row.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if !s.inTx {
		return s.Transaction(ctx, storage.Immediate, func(tx storage.Store) error {
			return tx.(*Store).SetSetting(ctx, key, value)
		})
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	return wrapDBErrorf(err, "set setting %s", key)
}

// GetExportHashes returns the content hash recorded at last export,
// keyed by element id.
func (s *Store) GetExportHashes(ctx context.Context) (map[string]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT element_id, content_hash FROM export_hashes`)
	if err != nil {
		return nil, wrapDBError("get export hashes", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, wrapDBError("scan export hash", err)
		}
		out[id] = hash
	}
	return out, wrapDBError("get export hashes", rows.Err())
}

// SetExportHashes upserts export bookkeeping rows after a successful
// export pass.
func (s *Store) SetExportHashes(ctx context.Context, hashes []storage.ExportHash) error {
	if len(hashes) == 0 {
		return nil
	}
	if !s.inTx {
		return s.Transaction(ctx, storage.Immediate, func(tx storage.Store) error {
			return tx.(*Store).SetExportHashes(ctx, hashes)
		})
	}
	for _, h := range hashes {
		exportedAt := h.ExportedAt
		if exportedAt.IsZero() {
			exportedAt = time.Now().UTC()
		}
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO export_hashes (element_id, content_hash, exported_at) VALUES (?, ?, ?)
			ON CONFLICT (element_id) DO UPDATE SET
				content_hash = excluded.content_hash, exported_at = excluded.exported_at`,
			h.ElementID, h.ContentHash, exportedAt.UTC())
		if err != nil {
			return wrapDBErrorf(err, "set export hash %s", h.ElementID)
		}
	}
	return nil
}
