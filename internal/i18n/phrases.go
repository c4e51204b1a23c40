package i18n

import (
	"context"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"

	"github.com/pavelanni/reviewer/internal/reply"
)

type phrasebook struct {
	loc *i18n.Localizer
}

// Phrases returns a reply.Phrasebook speaking the context's language.
func Phrases(ctx context.Context) reply.Phrasebook {
	return phrasebook{loc: localizerFromCtx(ctx)}
}

// Phrase returns "" for unknown IDs so the reply generator can fall back.
func (p phrasebook) Phrase(id string, data map[string]any) string {
	s, err := p.loc.Localize(&i18n.LocalizeConfig{MessageID: id, TemplateData: data})
	if err != nil {
		slog.Warn("missing reply phrase", "id", id, "error", err)
		return ""
	}
	return s
}
