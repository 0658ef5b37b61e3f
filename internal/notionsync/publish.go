// Package notionsync publishes current participant balances to a Notion
// database, one page per participant and collection.
package notionsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/splitwise-ledger/internal/logger"
)

// PublishResult counts what PublishBalances did.
type PublishResult struct {
	Created  int
	Updated  int
	Archived int
	Failed   int
}

// PublishBalances upserts one page per participant of collectionID and
// archives the collection's pages whose participant no longer has a
// balance. Per-page failures are logged and counted, not returned, except
// ErrRateLimited, which stops the publish.
func PublishBalances(ctx context.Context, reader BalanceReader, book BalanceBook, collectionID string, dryRun bool) (PublishResult, error) {
	log := logger.FromContext(ctx)
	var res PublishResult

	balances, err := reader.CurrentBalances(ctx, collectionID)
	if err != nil {
		return res, fmt.Errorf("failed to read balances: %w", err)
	}
	log.Info().Int("participants", len(balances)).Bool("dry_run", dryRun).Msg("Publishing balances to Notion")

	pages, err := listBalancePages(ctx, book, collectionID)
	if err != nil {
		return res, fmt.Errorf("failed to list balance pages: %w", err)
	}

	existing := make(map[string]string)
	for _, page := range pages {
		if extractCollection(page) != collectionID {
			continue
		}
		if pid := extractParticipantID(page); pid != "" {
			existing[pid] = string(page.ID)
		}
	}

	now := time.Now()
	current := make(map[string]bool, len(balances))
	for _, b := range balances {
		current[b.ParticipantID] = true
		pageID, found := existing[b.ParticipantID]
		plog := log.With().Str("participant_id", b.ParticipantID).Str("net", b.Net.String()).Logger()

		if dryRun {
			if found {
				plog.Info().Msg("[DRY RUN] Would update balance page")
				res.Updated++
			} else {
				plog.Info().Msg("[DRY RUN] Would create balance page")
				res.Created++
			}
			continue
		}

		props := BalanceToNotionProperties(b, now)
		if found {
			if err := book.UpdateBalancePage(ctx, pageID, props); err != nil {
				res.Failed++
				if errors.Is(err, ErrRateLimited) {
					return res, err
				}
				plog.Warn().Err(err).Str("page_id", pageID).Msg("Failed to update balance page")
				continue
			}
			res.Updated++
			continue
		}
		newID, err := book.CreateBalancePage(ctx, props)
		if err != nil {
			res.Failed++
			if errors.Is(err, ErrRateLimited) {
				return res, err
			}
			plog.Warn().Err(err).Msg("Failed to create balance page")
			continue
		}
		plog.Debug().Str("page_id", string(newID)).Msg("Created balance page")
		res.Created++
	}

	for pid, pageID := range existing {
		if current[pid] {
			continue
		}
		if dryRun {
			log.Info().Str("participant_id", pid).Msg("[DRY RUN] Would archive stale balance page")
			res.Archived++
			continue
		}
		if err := book.ArchiveBalancePage(ctx, pageID); err != nil {
			res.Failed++
			if errors.Is(err, ErrRateLimited) {
				return res, err
			}
			log.Warn().Err(err).Str("participant_id", pid).Str("page_id", pageID).Msg("Failed to archive stale balance page")
			continue
		}
		res.Archived++
	}

	log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("archived", res.Archived).
		Int("failed", res.Failed).
		Msg("Balance publishing completed")
	return res, nil
}

// listBalancePages follows the cursor through all balance pages of collectionID.
func listBalancePages(ctx context.Context, book BalanceBook, collectionID string) ([]notionapi.Page, error) {
	var pages []notionapi.Page
	var cursor notionapi.Cursor
	for {
		resp, err := book.ListBalancePages(ctx, collectionID, cursor)
		if err != nil {
			return nil, err
		}
		pages = append(pages, resp.Results...)
		if !resp.HasMore || resp.NextCursor == "" {
			return pages, nil
		}
		cursor = resp.NextCursor
	}
}
