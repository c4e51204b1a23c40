package model

import (
	"strings"
)

// LegacyKind names a per-profile key family of the browser storage layout.
type LegacyKind string

const (
	LegacyKnowledge LegacyKind = "knowledge"
	LegacyLogs      LegacyKind = "logs"
	LegacyTests     LegacyKind = "tests"
)

var legacyKinds = []LegacyKind{LegacyKnowledge, LegacyLogs, LegacyTests}

// LegacyKey builds the browser storage key for a profile, e.g. "knowledge_Ana_7".
func (p Profile) LegacyKey(kind LegacyKind) string {
	return string(kind) + "_" + p.Name + "_" + p.Grade
}

// LegacyKeys returns all browser storage keys owned by the profile.
func (p Profile) LegacyKeys() map[LegacyKind]string {
	keys := make(map[LegacyKind]string, len(legacyKinds))
	for _, k := range legacyKinds {
		keys[k] = p.LegacyKey(k)
	}
	return keys
}

// ParseLegacyKey splits a browser storage key into its kind and profile.
// The grade is everything after the last underscore, so names that contain
// underscores survive the round trip as long as grades do not.
func ParseLegacyKey(key string) (LegacyKind, Profile, bool) {
	for _, k := range legacyKinds {
		rest, found := strings.CutPrefix(key, string(k)+"_")
		if !found {
			continue
		}
		i := strings.LastIndex(rest, "_")
		if i <= 0 || i == len(rest)-1 {
			return "", Profile{}, false
		}
		return k, Profile{Name: rest[:i], Grade: rest[i+1:]}, true
	}
	return "", Profile{}, false
}

// LegacyQuestion is a question as the browser stored it under a tests key.
type LegacyQuestion struct {
	Number   int      `json:"number"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Correct  *int     `json:"correct,omitempty"`
}

// LegacyLogEntry is an activity entry as the browser stored it under a logs key.
type LegacyLogEntry struct {
	ID      int64  `json:"id"`
	Action  string `json:"action"`
	Content string `json:"content,omitempty"`
	Time    string `json:"time"`
}
