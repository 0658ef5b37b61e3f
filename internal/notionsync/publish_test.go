package notionsync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
)

// MockBalanceBook records calls and serves a fixed set of pages in two result pages.
type MockBalanceBook struct {
	Pages          []notionapi.Page
	CreateErr      error
	Created        []notionapi.Properties
	Updated        map[string]notionapi.Properties
	ArchivedPages  []string
	QueriedCursors []notionapi.Cursor
	Collections    []string
}

func (m *MockBalanceBook) ListBalancePages(ctx context.Context, collectionID string, cursor notionapi.Cursor) (*notionapi.DatabaseQueryResponse, error) {
	m.QueriedCursors = append(m.QueriedCursors, cursor)
	m.Collections = append(m.Collections, collectionID)
	if cursor == "" && len(m.Pages) > 1 {
		return &notionapi.DatabaseQueryResponse{Results: m.Pages[:1], HasMore: true, NextCursor: "next"}, nil
	}
	if cursor == "next" {
		return &notionapi.DatabaseQueryResponse{Results: m.Pages[1:]}, nil
	}
	return &notionapi.DatabaseQueryResponse{Results: m.Pages}, nil
}

func (m *MockBalanceBook) CreateBalancePage(ctx context.Context, props notionapi.Properties) (notionapi.ObjectID, error) {
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	m.Created = append(m.Created, props)
	return notionapi.ObjectID("new-page"), nil
}

func (m *MockBalanceBook) UpdateBalancePage(ctx context.Context, pageID string, props notionapi.Properties) error {
	if m.Updated == nil {
		m.Updated = map[string]notionapi.Properties{}
	}
	m.Updated[pageID] = props
	return nil
}

func (m *MockBalanceBook) ArchiveBalancePage(ctx context.Context, pageID string) error {
	m.ArchivedPages = append(m.ArchivedPages, pageID)
	return nil
}

type staticBalances struct {
	balances []domain.Balance
	err      error
}

func (s staticBalances) CurrentBalances(ctx context.Context, collectionID string) ([]domain.Balance, error) {
	return s.balances, s.err
}

func balancePage(id, participant, collection string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(id),
		Properties: notionapi.Properties{
			propParticipant: &notionapi.TitleProperty{Title: []notionapi.RichText{{PlainText: participant}}},
			propCollection:  &notionapi.RichTextProperty{RichText: []notionapi.RichText{{PlainText: collection}}},
		},
	}
}

func balance(participant, net string) domain.Balance {
	n := decimal.RequireFromString(net)
	return domain.Balance{CollectionID: "67890", ParticipantID: participant, Net: n, Paid: n.Abs(), Owed: decimal.Zero}
}

func TestPublishBalances(t *testing.T) {
	notion := &MockBalanceBook{
		Pages: []notionapi.Page{
			balancePage("page-1", "1", "67890"),
			balancePage("page-3", "3", "67890"),
			balancePage("page-other", "2", "11111"),
		},
	}
	reader := staticBalances{balances: []domain.Balance{balance("1", "12.75"), balance("2", "-12.75")}}

	res, err := PublishBalances(context.Background(), reader, notion, "67890", false)
	require.NoError(t, err)

	assert.Equal(t, PublishResult{Created: 1, Updated: 1, Archived: 1}, res)
	assert.Contains(t, notion.Updated, "page-1")
	assert.Equal(t, []string{"page-3"}, notion.ArchivedPages)
	require.Len(t, notion.Created, 1)
	title := notion.Created[0][propParticipant].(notionapi.TitleProperty)
	assert.Equal(t, "2", title.Title[0].Text.Content)
	assert.Equal(t, -12.75, notion.Created[0][propNet].(notionapi.NumberProperty).Number)
	assert.Equal(t, []notionapi.Cursor{"", "next"}, notion.QueriedCursors)
	assert.Equal(t, []string{"67890", "67890"}, notion.Collections)
}

func TestPublishBalancesDryRun(t *testing.T) {
	notion := &MockBalanceBook{Pages: []notionapi.Page{balancePage("page-3", "3", "67890")}}
	reader := staticBalances{balances: []domain.Balance{balance("1", "1")}}

	res, err := PublishBalances(context.Background(), reader, notion, "67890", true)
	require.NoError(t, err)
	assert.Equal(t, PublishResult{Created: 1, Archived: 1}, res)
	assert.Empty(t, notion.Created)
	assert.Empty(t, notion.ArchivedPages)
}

func TestPublishBalancesPageFailuresAreCounted(t *testing.T) {
	notion := &MockBalanceBook{CreateErr: errors.New("rate limited")}
	reader := staticBalances{balances: []domain.Balance{balance("1", "1"), balance("2", "-1")}}

	res, err := PublishBalances(context.Background(), reader, notion, "67890", false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
}

func TestPublishBalancesStopsWhenRateLimited(t *testing.T) {
	notion := &MockBalanceBook{CreateErr: fmt.Errorf("create balance page: %w", ErrRateLimited)}
	reader := staticBalances{balances: []domain.Balance{balance("1", "1"), balance("2", "-1")}}

	res, err := PublishBalances(context.Background(), reader, notion, "67890", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, res.Failed)
}

func TestPublishBalancesReaderFailure(t *testing.T) {
	_, err := PublishBalances(context.Background(), staticBalances{err: errors.New("locked")}, &MockBalanceBook{}, "67890", false)
	assert.Error(t, err)
}

func TestBalanceToNotionPropertiesName(t *testing.T) {
	b := balance("1", "5")
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	assert.NotContains(t, BalanceToNotionProperties(b, now), propName)

	name := "Ann Lee"
	b.ParticipantName = &name
	props := BalanceToNotionProperties(b, now)
	require.Contains(t, props, propName)
	assert.Equal(t, "Ann Lee", props[propName].(notionapi.RichTextProperty).RichText[0].Text.Content)
	assert.Equal(t, notionapi.Date(now), *props[propUpdated].(notionapi.DateProperty).Date.Start)
}
