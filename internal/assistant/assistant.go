// Package assistant ties reviewer storage, question extraction and reply
// generation together for one student profile at a time.
package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/reviewer/internal/extract"
	"github.com/pavelanni/reviewer/internal/ingest"
	"github.com/pavelanni/reviewer/internal/metrics"
	"github.com/pavelanni/reviewer/internal/model"
	"github.com/pavelanni/reviewer/internal/reply"
	"github.com/pavelanni/reviewer/internal/store"
)

var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrQuestionNotFound = errors.New("question not found")
	ErrLogNotFound      = errors.New("activity entry not found")
	// ErrPersist marks a storage failure after the in-memory state was already updated.
	ErrPersist = errors.New("could not save")
)

// DefaultSubjects are the subject labels offered when none are configured.
var DefaultSubjects = []string{"math", "science", "history", "english", "custom"}

// Assistant serves study operations. It is safe for concurrent use.
type Assistant struct {
	store    *store.Store
	gen      *reply.Generator
	subject  string
	subjects []string
	now      func() time.Time

	mu    sync.Mutex
	cache map[model.Profile]model.Knowledge
}

// New creates an Assistant. cfg.Subject is used when callers pass no subject.
func New(s *store.Store, g *reply.Generator, cfg model.Config) *Assistant {
	subject := cfg.Subject
	if subject == "" {
		subject = "custom"
	}
	return &Assistant{
		store:    s,
		gen:      g,
		subject:  subject,
		subjects: DefaultSubjects,
		now:      time.Now,
		cache:    make(map[model.Profile]model.Knowledge),
	}
}

// FeedResult is what a successful knowledge ingestion produced.
type FeedResult struct {
	Knowledge       model.Knowledge  `json:"knowledge"`
	Questions       []model.Question `json:"questions"`
	Acknowledgement string           `json:"acknowledgement"`
}

// AnswerResult is the outcome of answering one question.
type AnswerResult struct {
	Question model.Question `json:"question"`
	Choice   int            `json:"choice"`
	Verdict  model.Verdict  `json:"verdict"`
}

// Subjects lists the selectable subject labels.
func (a *Assistant) Subjects() []string {
	return a.subjects
}

func (a *Assistant) generator(ctx context.Context) *reply.Generator {
	return a.gen.Localized(reply.PhrasebookFromContext(ctx))
}

// Feed replaces the profile's knowledge with text and re-extracts its
// questions. On a storage failure the result is still returned, together
// with an error wrapping ErrPersist.
func (a *Assistant) Feed(ctx context.Context, p model.Profile, subject, text string) (FeedResult, error) {
	if err := p.Validate(); err != nil {
		return FeedResult{}, err
	}
	clean, err := ingest.ValidateText(text)
	if err != nil {
		metrics.IngestRejections.WithLabelValues(metrics.ReasonFor(err)).Inc()
		return FeedResult{}, err
	}
	return a.feed(ctx, p, subject, clean)
}

// FeedFile validates an uploaded file and feeds its text.
func (a *Assistant) FeedFile(ctx context.Context, p model.Profile, subject, name string, size int64, content []byte) (FeedResult, error) {
	if err := p.Validate(); err != nil {
		return FeedResult{}, err
	}
	clean, err := ingest.ValidateFile(name, size, content)
	if err != nil {
		metrics.IngestRejections.WithLabelValues(metrics.ReasonFor(err)).Inc()
		slog.Info("rejected upload", "profile", p.String(), "file", name, "size", size, "error", err)
		return FeedResult{}, err
	}
	return a.feed(ctx, p, subject, clean)
}

func (a *Assistant) feed(ctx context.Context, p model.Profile, subject, clean string) (FeedResult, error) {
	if strings.TrimSpace(subject) == "" {
		subject = a.subject
	}
	k := model.Knowledge{Profile: p, Subject: subject, Content: clean, UpdatedAt: a.now()}
	questions := extract.Questions(clean)
	metrics.QuestionsExtracted.Add(float64(len(questions)))

	a.mu.Lock()
	a.cache[p] = k
	a.mu.Unlock()

	res := FeedResult{
		Knowledge:       k,
		Questions:       questions,
		Acknowledgement: a.generator(ctx).Acknowledge(subject),
	}

	if err := a.store.SetKnowledge(k); err != nil {
		return res, a.persistErr("save knowledge", p, err)
	}
	if err := a.store.ReplaceQuestions(p, questions); err != nil {
		return res, a.persistErr("save questions", p, err)
	}
	if err := a.log(p, model.ActionFed, subject); err != nil {
		return res, err
	}
	slog.Info("fed knowledge", "profile", p.String(), "subject", subject, "chars", len(clean), "questions", len(questions))
	return res, nil
}

// Ask answers an utterance from the profile's knowledge. The reply is
// always usable, even when the returned error reports a logging failure.
func (a *Assistant) Ask(ctx context.Context, p model.Profile, utterance string) (reply.Reply, error) {
	if err := p.Validate(); err != nil {
		return reply.Reply{}, err
	}
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return reply.Reply{}, ErrEmptyMessage
	}

	k, err := a.Knowledge(ctx, p)
	if err != nil {
		slog.Error("failed to load knowledge, answering without it", "profile", p.String(), "error", err)
	}
	subject := k.Subject
	if subject == "" {
		subject = a.subject
	}

	r := a.generator(ctx).Respond(utterance, k.Content, subject)
	metrics.Replies.WithLabelValues(string(r.Kind)).Inc()
	slog.Debug("generated reply", "profile", p.String(), "kind", r.Kind, "sources", len(r.Sources))

	return r, a.log(p, model.ActionAsked, reply.Truncate(utterance, 100))
}

// Knowledge returns the profile's current knowledge, preferring the
// in-memory copy over storage.
func (a *Assistant) Knowledge(_ context.Context, p model.Profile) (model.Knowledge, error) {
	if err := p.Validate(); err != nil {
		return model.Knowledge{}, err
	}
	a.mu.Lock()
	k, ok := a.cache[p]
	a.mu.Unlock()
	if ok {
		return k, nil
	}

	k, err := a.store.GetKnowledge(p)
	if err != nil {
		return model.Knowledge{Profile: p}, fmt.Errorf("get knowledge: %w", err)
	}
	a.mu.Lock()
	a.cache[p] = k
	a.mu.Unlock()
	return k, nil
}

// ClearKnowledge drops the profile's knowledge and questions.
func (a *Assistant) ClearKnowledge(_ context.Context, p model.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	a.cache[p] = model.Knowledge{Profile: p}
	a.mu.Unlock()

	if err := a.store.ClearKnowledge(p); err != nil {
		return a.persistErr("clear knowledge", p, err)
	}
	return a.log(p, model.ActionCleared, "")
}

// Questions lists the profile's extracted questions.
func (a *Assistant) Questions(_ context.Context, p model.Profile) ([]model.Question, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return a.store.ListQuestions(p)
}

// Answer checks a zero-based choice against question number. Questions
// without a stored correct option are reported as ungraded.
func (a *Assistant) Answer(_ context.Context, p model.Profile, number, choice int) (AnswerResult, error) {
	if err := p.Validate(); err != nil {
		return AnswerResult{}, err
	}
	q, err := a.question(p, number)
	if err != nil {
		return AnswerResult{}, err
	}
	verdict, err := q.Check(choice)
	if err != nil {
		return AnswerResult{}, err
	}
	res := AnswerResult{Question: q, Choice: choice, Verdict: verdict}
	content := fmt.Sprintf("Q%d: %s (%s)", number, model.OptionLetter(choice), verdict)
	return res, a.log(p, model.ActionAnswered, content)
}

// SetCorrectOption stores the correct option of question number.
func (a *Assistant) SetCorrectOption(_ context.Context, p model.Profile, number, index int) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := a.question(p, number); err != nil {
		return err
	}
	if err := a.store.SetCorrectOption(p, number, index); err != nil {
		if errors.Is(err, model.ErrChoiceOutOfRange) {
			return err
		}
		return a.persistErr("set correct option", p, err)
	}
	return a.log(p, model.ActionSetCorrect, fmt.Sprintf("Q%d: %s", number, model.OptionLetter(index)))
}

func (a *Assistant) question(p model.Profile, number int) (model.Question, error) {
	q, err := a.store.GetQuestion(p, number)
	if errors.Is(err, sql.ErrNoRows) {
		return q, fmt.Errorf("%w: %d", ErrQuestionNotFound, number)
	}
	return q, err
}

// Logs returns the profile's activity entries, oldest first.
func (a *Assistant) Logs(_ context.Context, p model.Profile) ([]model.ActivityLogEntry, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return a.store.ListLogs(p)
}

// DeleteLog removes one activity entry by ID.
func (a *Assistant) DeleteLog(_ context.Context, p model.Profile, id int64) error {
	if err := p.Validate(); err != nil {
		return err
	}
	err := a.store.DeleteLog(p, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrLogNotFound, id)
	}
	return err
}

// ClearLogs removes all of the profile's activity entries.
func (a *Assistant) ClearLogs(_ context.Context, p model.Profile) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return a.store.ClearLogs(p)
}

// Export dumps everything stored for the profile.
func (a *Assistant) Export(_ context.Context, p model.Profile) (model.ProfileExport, error) {
	if err := p.Validate(); err != nil {
		return model.ProfileExport{}, err
	}
	return a.store.ExportProfile(p)
}

func (a *Assistant) log(p model.Profile, action, content string) error {
	if _, err := a.store.AppendLog(p, action, content, a.now()); err != nil {
		return a.persistErr("append activity", p, err)
	}
	return nil
}

func (a *Assistant) persistErr(op string, p model.Profile, err error) error {
	slog.Error("storage failure", "op", op, "profile", p.String(), "error", err)
	return fmt.Errorf("%w: %s: %w", ErrPersist, op, err)
}
