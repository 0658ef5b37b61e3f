package notionsync

import (
	"context"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
)

// BalanceBook is the Notion database balances are published to.
type BalanceBook interface {
	ListBalancePages(ctx context.Context, collectionID string, cursor notionapi.Cursor) (*notionapi.DatabaseQueryResponse, error)
	CreateBalancePage(ctx context.Context, props notionapi.Properties) (notionapi.ObjectID, error)
	UpdateBalancePage(ctx context.Context, pageID string, props notionapi.Properties) error
	ArchiveBalancePage(ctx context.Context, pageID string) error
}

// BalanceReader supplies the balances to publish.
type BalanceReader interface {
	CurrentBalances(ctx context.Context, collectionID string) ([]domain.Balance, error)
}
