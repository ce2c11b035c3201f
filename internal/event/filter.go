package event

import (
	"context"
	"regexp"

	"github.com/go-telegram/bot/models"
)

// Regex matches the callback data, inline query or message text of the event
// against pattern and stores the submatches in Event.Matches.
func Regex(pattern string) FilterFunc {
	re := regexp.MustCompile(pattern)

	return func(_ context.Context, ev *Event) (bool, error) {
		var subject string
		switch {
		case ev.CallbackQuery != nil:
			subject = ev.CallbackQuery.Data
		case ev.InlineQuery != nil:
			subject = ev.InlineQuery.Query
		case ev.Message != nil:
			subject = ev.Message.Text
			if subject == "" {
				subject = ev.Message.Caption
			}
		default:
			return false, nil
		}

		matches := re.FindStringSubmatch(subject)
		if matches == nil {
			return false, nil
		}

		ev.Matches = matches
		return true, nil
	}
}

// ChatTypes passes message events from the given chat types only.
func ChatTypes(types ...models.ChatType) FilterFunc {
	return func(_ context.Context, ev *Event) (bool, error) {
		if ev.Message == nil {
			return false, nil
		}

		for _, t := range types {
			if ev.Message.Chat.Type == t {
				return true, nil
			}
		}

		return false, nil
	}
}
