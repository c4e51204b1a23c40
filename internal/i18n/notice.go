package i18n

import (
	"context"
	"errors"

	"github.com/pavelanni/reviewer/internal/assistant"
	"github.com/pavelanni/reviewer/internal/ingest"
	"github.com/pavelanni/reviewer/internal/model"
)

// NoticeID maps a domain error to the message ID shown to the student.
func NoticeID(err error) string {
	switch {
	case errors.Is(err, ingest.ErrEmpty):
		return "NoticeEmptyContent"
	case errors.Is(err, assistant.ErrEmptyMessage):
		return "NoticeEmptyMessage"
	case errors.Is(err, model.ErrInvalidProfile):
		return "NoticeInvalidProfile"
	case errors.Is(err, ingest.ErrExtension):
		return "NoticeExtension"
	case errors.Is(err, ingest.ErrTooLarge):
		return "NoticeTooLarge"
	case errors.Is(err, ingest.ErrBinary):
		return "NoticeBinary"
	case errors.Is(err, model.ErrChoiceOutOfRange):
		return "NoticeChoice"
	case errors.Is(err, assistant.ErrQuestionNotFound), errors.Is(err, assistant.ErrLogNotFound):
		return "NoticeNotFound"
	case errors.Is(err, assistant.ErrPersist):
		return "NoticeStorage"
	default:
		return "NoticeInternal"
	}
}

// Notice returns the localised notice for err.
func Notice(ctx context.Context, err error) string {
	return T(ctx, NoticeID(err))
}
