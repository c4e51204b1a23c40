package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidProfile is returned when a profile is missing its name or grade.
var ErrInvalidProfile = errors.New("profile name and grade are required")

// ErrChoiceOutOfRange is returned when an answer index does not address an option.
var ErrChoiceOutOfRange = errors.New("choice out of range")

// Profile identifies an isolated per-student namespace.
type Profile struct {
	Name  string `json:"name"`
	Grade string `json:"grade"`
}

// Validate trims the profile fields and checks that both are present.
func (p *Profile) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	p.Grade = strings.TrimSpace(p.Grade)
	if p.Name == "" || p.Grade == "" {
		return ErrInvalidProfile
	}
	return nil
}

func (p Profile) String() string {
	return fmt.Sprintf("%s (grade %s)", p.Name, p.Grade)
}

type profileCtxKey struct{}

// ContextWithProfile stores the active profile in the context.
func ContextWithProfile(ctx context.Context, p Profile) context.Context {
	return context.WithValue(ctx, profileCtxKey{}, p)
}

// ProfileFromContext retrieves the active profile; ok is false when none is set.
func ProfileFromContext(ctx context.Context) (Profile, bool) {
	p, ok := ctx.Value(profileCtxKey{}).(Profile)
	return p, ok
}

// Knowledge is the single reviewer text blob of a profile.
type Knowledge struct {
	Profile   Profile   `json:"profile"`
	Subject   string    `json:"subject"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Empty reports whether no usable knowledge is loaded.
func (k Knowledge) Empty() bool {
	return strings.TrimSpace(k.Content) == ""
}

// Question is a multiple-choice question extracted from reviewer text.
type Question struct {
	Number       int      `json:"number"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex *int     `json:"correct_index,omitempty"`
}

// Verdict is the outcome of checking a selected option.
type Verdict string

const (
	VerdictCorrect   Verdict = "correct"
	VerdictIncorrect Verdict = "incorrect"
	// VerdictUngraded means the question has no stored correct option.
	VerdictUngraded Verdict = "ungraded"
)

// Check compares a zero-based choice against the stored correct option.
func (q Question) Check(choice int) (Verdict, error) {
	if choice < 0 || choice >= len(q.Options) {
		return "", fmt.Errorf("%w: %d of %d options", ErrChoiceOutOfRange, choice, len(q.Options))
	}
	if q.CorrectIndex == nil {
		return VerdictUngraded, nil
	}
	if *q.CorrectIndex == choice {
		return VerdictCorrect, nil
	}
	return VerdictIncorrect, nil
}

// OptionLetter returns the display letter (A, B, ...) for a zero-based option index.
func OptionLetter(i int) string {
	return string(rune('A' + i))
}

// Activity log action labels.
const (
	ActionFed        = "Fed knowledge"
	ActionAsked      = "Asked"
	ActionAnswered   = "Answered question"
	ActionCleared    = "Cleared knowledge"
	ActionSetCorrect = "Set correct option"
)

// ActivityLogEntry is one append-only record of what a student did.
type ActivityLogEntry struct {
	ID      int64  `json:"id"` // creation time in unix milliseconds
	Action  string `json:"action"`
	Content string `json:"content,omitempty"`
	Time    string `json:"time"`
}

// TimeLabel formats a timestamp the way activity entries display it.
func TimeLabel(t time.Time) string {
	return t.Format("Jan 2, 2006 3:04 PM")
}

// Config holds runtime parameters set via CLI flags.
type Config struct {
	Subject       string        // default subject label
	ThinkDelay    time.Duration // presentation-only delay before chat replies
	ThinkJitter   time.Duration // random extra delay added to ThinkDelay
	Lang          string
	BasePath      string
	ChatRateLimit int // chat requests per minute per client, 0 disables
}

// ProfileExport is the JSON dump of one profile's data.
type ProfileExport struct {
	Profile   Profile            `json:"profile"`
	Knowledge *Knowledge         `json:"knowledge,omitempty"`
	Questions []Question         `json:"questions"`
	Logs      []ActivityLogEntry `json:"logs"`
	Exported  time.Time          `json:"exported_at"`
}
