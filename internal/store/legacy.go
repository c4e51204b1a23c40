package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/pavelanni/reviewer/internal/model"
)

// ImportStats summarizes a legacy browser-storage import.
type ImportStats struct {
	Profiles  int `json:"profiles"`
	Knowledge int `json:"knowledge"`
	Questions int `json:"questions"`
	Logs      int `json:"logs"`
	Skipped   int `json:"skipped"`
}

// ImportLegacy migrates a dump of browser storage (key to string value) into
// the store. Keys that do not follow the per-profile layout are skipped.
func (s *Store) ImportLegacy(dump map[string]string) (ImportStats, error) {
	var stats ImportStats

	keys := make([]string, 0, len(dump))
	for k := range dump {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := make(map[model.Profile]bool)
	for _, key := range keys {
		kind, p, ok := model.ParseLegacyKey(key)
		if !ok || p.Validate() != nil {
			slog.Debug("skipping legacy key", "key", key)
			stats.Skipped++
			continue
		}
		pid, err := s.EnsureProfile(p)
		if err != nil {
			return stats, fmt.Errorf("profile for %s: %w", key, err)
		}
		if !seen[p] {
			seen[p] = true
			stats.Profiles++
		}

		raw := dump[key]
		switch kind {
		case model.LegacyKnowledge:
			if err := s.SetKnowledge(model.Knowledge{Profile: p, Content: raw}); err != nil {
				return stats, fmt.Errorf("import %s: %w", key, err)
			}
			stats.Knowledge++

		case model.LegacyTests:
			var legacy []model.LegacyQuestion
			if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
				return stats, fmt.Errorf("parse %s: %w", key, err)
			}
			questions := make([]model.Question, 0, len(legacy))
			for i, lq := range legacy {
				questions = append(questions, model.Question{
					Number:       i + 1,
					Prompt:       lq.Question,
					Options:      lq.Options,
					CorrectIndex: lq.Correct,
				})
			}
			if err := s.ReplaceQuestions(p, questions); err != nil {
				return stats, fmt.Errorf("import %s: %w", key, err)
			}
			stats.Questions += len(questions)

		case model.LegacyLogs:
			var legacy []model.LegacyLogEntry
			if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
				return stats, fmt.Errorf("parse %s: %w", key, err)
			}
			for _, le := range legacy {
				err := s.insertLog(pid, model.ActivityLogEntry{
					ID:      le.ID,
					Action:  le.Action,
					Content: le.Content,
					Time:    le.Time,
				})
				if err != nil {
					return stats, fmt.Errorf("import %s: %w", key, err)
				}
			}
			stats.Logs += len(legacy)
		}
	}
	return stats, nil
}
