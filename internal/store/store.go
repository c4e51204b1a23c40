package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/reviewer/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		grade TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (name, grade)
	);

	CREATE TABLE IF NOT EXISTS knowledge (
		profile_id INTEGER PRIMARY KEY,
		subject TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (profile_id) REFERENCES profiles(id)
	);

	CREATE TABLE IF NOT EXISTS questions (
		profile_id INTEGER NOT NULL,
		number INTEGER NOT NULL,
		prompt TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		correct_index INTEGER,
		PRIMARY KEY (profile_id, number),
		FOREIGN KEY (profile_id) REFERENCES profiles(id)
	);

	CREATE TABLE IF NOT EXISTS activity_log (
		profile_id INTEGER NOT NULL,
		id INTEGER NOT NULL,
		action TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		time_label TEXT NOT NULL,
		PRIMARY KEY (profile_id, id),
		FOREIGN KEY (profile_id) REFERENCES profiles(id)
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// EnsureProfile returns the profile's row ID, creating the row if needed.
func (s *Store) EnsureProfile(p model.Profile) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	_, err := s.db.Exec(
		`INSERT INTO profiles (name, grade, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(name, grade) DO NOTHING`,
		p.Name, p.Grade, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRow(`SELECT id FROM profiles WHERE name = ? AND grade = ?`, p.Name, p.Grade).Scan(&id)
	return id, err
}

// profileID looks up a profile without creating it. Zero means not found.
func (s *Store) profileID(p model.Profile) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := s.db.QueryRow(`SELECT id FROM profiles WHERE name = ? AND grade = ?`, p.Name, p.Grade).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

// ListProfiles returns all profiles ordered by name, then grade.
func (s *Store) ListProfiles() ([]model.Profile, error) {
	rows, err := s.db.Query(`SELECT name, grade FROM profiles ORDER BY name, grade`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var profiles []model.Profile
	for rows.Next() {
		var p model.Profile
		if err := rows.Scan(&p.Name, &p.Grade); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// SetKnowledge replaces the profile's reviewer text.
func (s *Store) SetKnowledge(k model.Knowledge) error {
	id, err := s.EnsureProfile(k.Profile)
	if err != nil {
		return err
	}
	if k.UpdatedAt.IsZero() {
		k.UpdatedAt = time.Now()
	}
	_, err = s.db.Exec(
		`INSERT INTO knowledge (profile_id, subject, content, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(profile_id) DO UPDATE SET subject = excluded.subject, content = excluded.content, updated_at = excluded.updated_at`,
		id, k.Subject, k.Content, k.UpdatedAt,
	)
	return err
}

// GetKnowledge returns the profile's reviewer text, or a zero Knowledge
// carrying only the profile when nothing is stored.
func (s *Store) GetKnowledge(p model.Profile) (model.Knowledge, error) {
	k := model.Knowledge{Profile: p}
	id, err := s.profileID(p)
	if err != nil || id == 0 {
		return k, err
	}
	err = s.db.QueryRow(
		`SELECT subject, content, updated_at FROM knowledge WHERE profile_id = ?`, id,
	).Scan(&k.Subject, &k.Content, &k.UpdatedAt)
	if err == sql.ErrNoRows {
		return k, nil
	}
	return k, err
}

// ClearKnowledge removes the profile's reviewer text and its questions.
func (s *Store) ClearKnowledge(p model.Profile) error {
	id, err := s.profileID(p)
	if err != nil || id == 0 {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM knowledge WHERE profile_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM questions WHERE profile_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceQuestions swaps the profile's whole question batch.
func (s *Store) ReplaceQuestions(p model.Profile, questions []model.Question) error {
	id, err := s.EnsureProfile(p)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM questions WHERE profile_id = ?`, id); err != nil {
		return err
	}
	for _, q := range questions {
		opts, err := json.Marshal(q.Options)
		if err != nil {
			return fmt.Errorf("encode options for question %d: %w", q.Number, err)
		}
		var correct any
		if q.CorrectIndex != nil {
			correct = *q.CorrectIndex
		}
		_, err = tx.Exec(
			`INSERT INTO questions (profile_id, number, prompt, options, correct_index) VALUES (?, ?, ?, ?, ?)`,
			id, q.Number, q.Prompt, string(opts), correct,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListQuestions returns the profile's questions ordered by number.
func (s *Store) ListQuestions(p model.Profile) ([]model.Question, error) {
	id, err := s.profileID(p)
	if err != nil || id == 0 {
		return []model.Question{}, err
	}
	rows, err := s.db.Query(
		`SELECT number, prompt, options, correct_index FROM questions WHERE profile_id = ? ORDER BY number`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	questions := []model.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// GetQuestion returns one question by its number.
func (s *Store) GetQuestion(p model.Profile, number int) (model.Question, error) {
	id, err := s.profileID(p)
	if err != nil {
		return model.Question{}, err
	}
	if id == 0 {
		return model.Question{}, sql.ErrNoRows
	}
	return scanQuestion(s.db.QueryRow(
		`SELECT number, prompt, options, correct_index FROM questions WHERE profile_id = ? AND number = ?`, id, number,
	))
}

// SetCorrectOption records which option of a question is correct.
func (s *Store) SetCorrectOption(p model.Profile, number, index int) error {
	q, err := s.GetQuestion(p, number)
	if err != nil {
		return err
	}
	if _, err := q.Check(index); err != nil {
		return err
	}
	id, err := s.profileID(p)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE questions SET correct_index = ? WHERE profile_id = ? AND number = ?`, index, id, number,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (model.Question, error) {
	var (
		q       model.Question
		opts    string
		correct sql.NullInt64
	)
	if err := row.Scan(&q.Number, &q.Prompt, &opts, &correct); err != nil {
		return q, err
	}
	if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
		return q, fmt.Errorf("decode options for question %d: %w", q.Number, err)
	}
	if correct.Valid {
		idx := int(correct.Int64)
		q.CorrectIndex = &idx
	}
	return q, nil
}
