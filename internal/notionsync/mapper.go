package notionsync

import (
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
)

// Property names of the balances database.
const (
	propParticipant = "Participant ID"
	propName        = "Name"
	propNet         = "Net Balance"
	propPaid        = "Paid"
	propOwed        = "Owed"
	propCollection  = "Collection"
	propUpdated     = "Updated"
)

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: content},
		},
	}
}

// BalanceToNotionProperties maps one participant balance to page properties.
func BalanceToNotionProperties(b domain.Balance, updated time.Time) notionapi.Properties {
	d := notionapi.Date(updated.UTC())
	props := notionapi.Properties{
		propParticipant: notionapi.TitleProperty{Title: richText(b.ParticipantID)},
		propNet:         notionapi.NumberProperty{Number: b.Net.InexactFloat64()},
		propPaid:        notionapi.NumberProperty{Number: b.Paid.InexactFloat64()},
		propOwed:        notionapi.NumberProperty{Number: b.Owed.InexactFloat64()},
		propCollection:  notionapi.RichTextProperty{RichText: richText(b.CollectionID)},
		propUpdated:     notionapi.DateProperty{Date: &notionapi.DateObject{Start: &d}},
	}
	if b.ParticipantName != nil && *b.ParticipantName != "" {
		props[propName] = notionapi.RichTextProperty{RichText: richText(*b.ParticipantName)}
	}
	return props
}

// extractParticipantID returns the page title, or "" when absent.
func extractParticipantID(page notionapi.Page) string {
	if prop, ok := page.Properties[propParticipant]; ok {
		if title, ok := prop.(*notionapi.TitleProperty); ok && len(title.Title) > 0 {
			return title.Title[0].PlainText
		}
	}
	return ""
}

func extractCollection(page notionapi.Page) string {
	if prop, ok := page.Properties[propCollection]; ok {
		if rt, ok := prop.(*notionapi.RichTextProperty); ok && len(rt.RichText) > 0 {
			return rt.RichText[0].PlainText
		}
	}
	return ""
}
