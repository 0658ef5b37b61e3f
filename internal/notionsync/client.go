package notionsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jomei/notionapi"
)

// pageSize is the Notion API maximum.
const pageSize = 100

// ErrRateLimited reports that Notion kept answering 429 after the SDK's own retries.
var ErrRateLimited = errors.New("notion: rate limited")

// BalanceDatabase is the balances database of one Notion workspace.
type BalanceDatabase struct {
	client     *notionapi.Client
	databaseID notionapi.DatabaseID
}

var _ BalanceBook = (*BalanceDatabase)(nil)

// NewBalanceDatabase opens the database with an integration token.
// hc may be nil.
func NewBalanceDatabase(token, databaseID string, hc *http.Client) *BalanceDatabase {
	opts := []notionapi.ClientOption{notionapi.WithRetry(3)}
	if hc != nil {
		opts = append(opts, notionapi.WithHTTPClient(hc))
	}
	return &BalanceDatabase{
		client:     notionapi.NewClient(notionapi.Token(token), opts...),
		databaseID: notionapi.DatabaseID(databaseID),
	}
}

// ListBalancePages returns one page of results holding the balance pages
// of collectionID, ordered by participant. The collection filter runs on
// the Notion side.
func (d *BalanceDatabase) ListBalancePages(ctx context.Context, collectionID string, cursor notionapi.Cursor) (*notionapi.DatabaseQueryResponse, error) {
	req := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: propCollection,
			RichText: &notionapi.TextFilterCondition{Equals: collectionID},
		},
		Sorts:       []notionapi.SortObject{{Property: propParticipant, Direction: notionapi.SortOrderASC}},
		StartCursor: cursor,
		PageSize:    pageSize,
	}
	resp, err := d.client.Database.Query(ctx, d.databaseID, req)
	if err != nil {
		return nil, classify(fmt.Sprintf("list balance pages of collection %s", collectionID), err)
	}
	return resp, nil
}

// CreateBalancePage adds a participant's balance page.
func (d *BalanceDatabase) CreateBalancePage(ctx context.Context, props notionapi.Properties) (notionapi.ObjectID, error) {
	page, err := d.client.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: d.databaseID,
		},
		Properties: props,
	})
	if err != nil {
		return "", classify("create balance page", err)
	}
	return page.ID, nil
}

// UpdateBalancePage overwrites the figures on an existing page.
func (d *BalanceDatabase) UpdateBalancePage(ctx context.Context, pageID string, props notionapi.Properties) error {
	_, err := d.client.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{Properties: props})
	if err != nil {
		return classify("update balance page "+pageID, err)
	}
	return nil
}

// ArchiveBalancePage retires the page of a participant who no longer has
// a balance. Notion has no hard delete.
func (d *BalanceDatabase) ArchiveBalancePage(ctx context.Context, pageID string) error {
	_, err := d.client.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{Archived: true})
	if err != nil {
		return classify("archive balance page "+pageID, err)
	}
	return nil
}

func classify(op string, err error) error {
	var limited *notionapi.RateLimitedError
	if errors.As(err, &limited) {
		return fmt.Errorf("%s: %w: %s", op, ErrRateLimited, limited.Message)
	}
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("notion: %s: %d %s: %w", op, apiErr.Status, apiErr.Code, err)
	}
	return fmt.Errorf("notion: %s: %w", op, err)
}
