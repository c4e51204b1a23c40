package store

import (
	"database/sql"
	"time"

	"github.com/pavelanni/reviewer/internal/model"
)

// AppendLog records an activity entry. The entry ID is the creation time in
// unix milliseconds, bumped past the profile's latest ID when two entries
// land in the same millisecond.
func (s *Store) AppendLog(p model.Profile, action, content string, at time.Time) (model.ActivityLogEntry, error) {
	pid, err := s.EnsureProfile(p)
	if err != nil {
		return model.ActivityLogEntry{}, err
	}
	entry := model.ActivityLogEntry{
		ID:      at.UnixMilli(),
		Action:  action,
		Content: content,
		Time:    model.TimeLabel(at),
	}
	// One write statement, so concurrent appends queue on the write lock
	// instead of failing a read-to-write upgrade.
	err = s.db.QueryRow(
		`INSERT INTO activity_log (profile_id, id, action, content, time_label)
		 SELECT ?, MAX(COALESCE(MAX(id), 0) + 1, ?), ?, ?, ?
		 FROM activity_log WHERE profile_id = ?
		 RETURNING id`,
		pid, entry.ID, entry.Action, entry.Content, entry.Time, pid,
	).Scan(&entry.ID)
	if err != nil {
		return model.ActivityLogEntry{}, err
	}
	return entry, nil
}

// insertLog stores an entry with a caller-chosen ID, keeping an existing one.
func (s *Store) insertLog(pid int64, e model.ActivityLogEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO activity_log (profile_id, id, action, content, time_label) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(profile_id, id) DO NOTHING`,
		pid, e.ID, e.Action, e.Content, e.Time,
	)
	return err
}

// ListLogs returns the profile's activity entries, oldest first.
func (s *Store) ListLogs(p model.Profile) ([]model.ActivityLogEntry, error) {
	pid, err := s.profileID(p)
	if err != nil || pid == 0 {
		return []model.ActivityLogEntry{}, err
	}
	rows, err := s.db.Query(
		`SELECT id, action, content, time_label FROM activity_log WHERE profile_id = ? ORDER BY id`, pid,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	logs := []model.ActivityLogEntry{}
	for rows.Next() {
		var e model.ActivityLogEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.Content, &e.Time); err != nil {
			return nil, err
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

// DeleteLog removes one entry. It returns sql.ErrNoRows when the entry does not exist.
func (s *Store) DeleteLog(p model.Profile, id int64) error {
	pid, err := s.profileID(p)
	if err != nil {
		return err
	}
	if pid == 0 {
		return sql.ErrNoRows
	}
	res, err := s.db.Exec(`DELETE FROM activity_log WHERE profile_id = ? AND id = ?`, pid, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ClearLogs removes all of the profile's entries and reports how many were deleted.
func (s *Store) ClearLogs(p model.Profile) (int64, error) {
	pid, err := s.profileID(p)
	if err != nil || pid == 0 {
		return 0, err
	}
	res, err := s.db.Exec(`DELETE FROM activity_log WHERE profile_id = ?`, pid)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
