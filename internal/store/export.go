package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/reviewer/internal/model"
)

// ExportProfile gathers everything stored for a profile.
func (s *Store) ExportProfile(p model.Profile) (model.ProfileExport, error) {
	exp := model.ProfileExport{Profile: p, Exported: time.Now().UTC()}

	k, err := s.GetKnowledge(p)
	if err != nil {
		return exp, fmt.Errorf("get knowledge: %w", err)
	}
	if !k.Empty() {
		exp.Knowledge = &k
	}
	if exp.Questions, err = s.ListQuestions(p); err != nil {
		return exp, fmt.Errorf("list questions: %w", err)
	}
	if exp.Logs, err = s.ListLogs(p); err != nil {
		return exp, fmt.Errorf("list logs: %w", err)
	}
	return exp, nil
}
