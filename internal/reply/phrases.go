package reply

import (
	"bytes"
	"context"
	"text/template"
)

// Phrase IDs shared with the locale files.
const (
	IDNoKnowledge1  = "NoKnowledge1"
	IDNoKnowledge2  = "NoKnowledge2"
	IDNoKnowledge3  = "NoKnowledge3"
	IDFallback1     = "Fallback1"
	IDFallback2     = "Fallback2"
	IDFallback3     = "Fallback3"
	IDFallback4     = "Fallback4"
	IDRelevant      = "RelevantReply"
	IDAcknowledge   = "KnowledgeLoaded"
	IDApology       = "ReplyApology"
	IDSubjectNotSet = "SubjectNotSet"
)

var (
	noKnowledgeIDs = []string{IDNoKnowledge1, IDNoKnowledge2, IDNoKnowledge3}
	fallbackIDs    = []string{IDFallback1, IDFallback2, IDFallback3, IDFallback4}
)

// Phrasebook resolves a phrase ID with template data into display text.
type Phrasebook interface {
	Phrase(id string, data map[string]any) string
}

// apology is used when even the phrasebook cannot produce one.
const apology = "Sorry, I had trouble answering that. Please try again."

var englishSource = map[string]string{
	IDNoKnowledge1:  "I don't have {{.Subject}} content loaded yet. Please paste some reviewer material first!",
	IDNoKnowledge2:  "Oops! No {{.Subject}} knowledge available. Feed me some content to get started! 📚",
	IDNoKnowledge3:  "I need some {{.Subject}} material to help you. Upload your reviewer notes!",
	IDFallback1:     "Can you ask more specifically? I'm ready to help! 📖",
	IDFallback2:     "Could you rephrase that? I want to give you the best answer!",
	IDFallback3:     "Try breaking the topic into smaller parts and review them one at a time. 💡",
	IDFallback4:     "You're doing great! Keep the questions coming! 💪",
	IDRelevant:      `Based on your notes: "{{.Quote}}" Keep studying! 📚`,
	IDAcknowledge:   "Great! I've loaded your {{.Subject}} reviewer. Feel free to ask me questions about it! 🎯",
	IDApology:       apology,
	IDSubjectNotSet: "this subject",
}

type english map[string]*template.Template

// English is the built-in phrasebook used when no localizer is configured.
var English Phrasebook = newEnglish()

func newEnglish() english {
	e := make(english, len(englishSource))
	for id, src := range englishSource {
		e[id] = template.Must(template.New(id).Parse(src))
	}
	return e
}

func (e english) Phrase(id string, data map[string]any) string {
	tmpl, ok := e[id]
	if !ok {
		return ""
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return ""
	}
	return buf.String()
}

type phrasebookCtxKey struct{}

// ContextWithPhrasebook stores a request-scoped phrasebook in the context.
func ContextWithPhrasebook(ctx context.Context, p Phrasebook) context.Context {
	return context.WithValue(ctx, phrasebookCtxKey{}, p)
}

// PhrasebookFromContext returns the context's phrasebook, or nil.
func PhrasebookFromContext(ctx context.Context) Phrasebook {
	p, _ := ctx.Value(phrasebookCtxKey{}).(Phrasebook)
	return p
}
