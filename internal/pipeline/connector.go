package pipeline

import (
	"context"
	"time"

	"github.com/dvloznov/splitwise-ledger/internal/archive"
	"github.com/dvloznov/splitwise-ledger/internal/credentials"
	"github.com/dvloznov/splitwise-ledger/internal/domain"
	"github.com/dvloznov/splitwise-ledger/internal/fetch"
	"github.com/dvloznov/splitwise-ledger/internal/retry"
	"github.com/dvloznov/splitwise-ledger/internal/splitwise"
)

// RecordFetcher returns a collection's change records, all of them when
// since is nil.
type RecordFetcher interface {
	Fetch(ctx context.Context, collectionID string, since *time.Time) ([]domain.RawExpense, error)
}

// Identifier reports who the session is authenticated as.
type Identifier interface {
	GetCurrentUser(ctx context.Context) (domain.Identity, error)
}

// Session is an open connection to a record source. Identity may be nil.
type Session struct {
	Records  RecordFetcher
	Identity Identifier
}

// Connector opens a session on behalf of a user.
type Connector interface {
	Connect(ctx context.Context, user string) (Session, error)
}

// SplitwiseConnector authenticates against the Splitwise API with the
// user's stored API key.
type SplitwiseConnector struct {
	Credentials credentials.Resolver
	BaseURL     string
	Timeout     time.Duration
	Policy      retry.Policy
	PageSize    int
}

// Connect resolves the key and builds a retrying fetcher. Resolver errors
// already match domain.ErrCredentialMissing.
func (c SplitwiseConnector) Connect(ctx context.Context, user string) (Session, error) {
	creds, err := c.Credentials.Resolve(ctx, user)
	if err != nil {
		return Session{}, err
	}
	client := splitwise.NewClient(creds.APIKey, c.BaseURL, c.Timeout)
	return Session{
		Records:  fetch.New(client, c.Policy).WithPageSize(c.PageSize),
		Identity: client,
	}, nil
}

// ReplayConnector serves an archived batch instead of the live source.
type ReplayConnector struct {
	Replay archive.Replay
}

func (c ReplayConnector) Connect(ctx context.Context, user string) (Session, error) {
	return Session{Records: c.Replay}, nil
}
