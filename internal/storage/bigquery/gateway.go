// Package bigquery is the BigQuery store backend.
//
// BigQuery enforces no uniqueness, so the one-current-row-per-key rule rests
// on close-out running as a single multi-statement transaction before the
// insert. Inserts use load jobs rather than streaming inserts: rows in the
// streaming buffer cannot be touched by the next run's UPDATE.
package bigquery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
	"github.com/dvloznov/splitwise-ledger/internal/logger"
	"github.com/dvloznov/splitwise-ledger/internal/retry"
	"github.com/dvloznov/splitwise-ledger/internal/storage"
)

const (
	transactionsTable = "transactions"
	paymentsTable     = "user_payments"
)

// Options configures a Gateway.
type Options struct {
	BatchSize int
	Policy    retry.Policy
}

// Gateway implements storage.Gateway over a BigQuery dataset.
type Gateway struct {
	client    *bigquery.Client
	dataset   string
	batchSize int
	policy    retry.Policy

	schemaMu    sync.Mutex
	schemaReady bool
}

var _ storage.Gateway = (*Gateway)(nil)

// New creates a Gateway with its own client.
func New(ctx context.Context, projectID, dataset string, opts Options) (*Gateway, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("bigquery.New: creating client: %w", err)
	}
	return NewWithClient(client, dataset, opts), nil
}

// NewWithClient creates a Gateway over a shared client.
func NewWithClient(client *bigquery.Client, dataset string, opts Options) *Gateway {
	if opts.BatchSize <= 0 {
		opts.BatchSize = storage.DefaultBatchSize
	}
	return &Gateway{client: client, dataset: dataset, batchSize: opts.BatchSize, policy: opts.Policy}
}

// Close closes the BigQuery client connection.
func (g *Gateway) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *Gateway) table(name string) string {
	return fmt.Sprintf("`%s.%s`", g.dataset, name)
}

// isBusyErr reports contention: concurrent DML on the same table, rate
// limits and transient backend failures.
func isBusyErr(err error) bool {
	if errors.Is(err, domain.ErrStorageBusy) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500 {
			return true
		}
		for _, item := range gerr.Errors {
			if isBusyReason(item.Reason) {
				return true
			}
		}
		if strings.Contains(gerr.Message, "concurrent update") {
			return true
		}
	}
	var berr *bigquery.Error
	if errors.As(err, &berr) {
		return isBusyReason(berr.Reason) || strings.Contains(berr.Message, "concurrent update")
	}
	return false
}

func isBusyReason(reason string) bool {
	switch reason {
	case "rateLimitExceeded", "jobRateLimitExceeded", "backendError", "internalError":
		return true
	}
	return false
}

// withRetry runs fn under the gateway policy, classifying failures the way
// the SQLite backend does.
func (g *Gateway) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	log := logger.FromContext(ctx)
	err := g.policy.Do(ctx, isBusyErr, func(ctx context.Context, attempt int) error {
		err := fn(ctx)
		if err != nil && isBusyErr(err) {
			log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("BigQuery is busy")
			return domain.E(domain.ErrStorageBusy, op, err)
		}
		return err
	})
	if err != nil {
		return domain.E(domain.ErrStorageUnavailable, op, err)
	}
	return nil
}

// runJob waits for a job and surfaces its terminal error.
func runJob(ctx context.Context, job *bigquery.Job) error {
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

// EnsureSchema applies pending migrations once per Gateway.
func (g *Gateway) EnsureSchema(ctx context.Context) error {
	g.schemaMu.Lock()
	defer g.schemaMu.Unlock()
	if g.schemaReady {
		return nil
	}

	err := g.withRetry(ctx, "EnsureSchema", func(ctx context.Context) error {
		_, err := g.Migrate(ctx, "splitwise-ledger")
		return err
	})
	if err != nil {
		return err
	}
	g.schemaReady = true
	return nil
}

// keyParam encodes keys for UNNEST matching against CONCAT(collection_id, ':', id).
func keyParam(keys []domain.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.CollectionID + ":" + k.ID
	}
	return out
}

// CloseOut supersedes current rows for keys in one multi-statement transaction.
func (g *Gateway) CloseOut(ctx context.Context, keys []domain.Key, at time.Time) (storage.Superseded, error) {
	var res storage.Superseded
	if len(keys) == 0 {
		return res, nil
	}
	if err := g.EnsureSchema(ctx); err != nil {
		return res, err
	}

	script := fmt.Sprintf(`
		DECLARE tx_closed INT64 DEFAULT 0;
		DECLARE pay_closed INT64 DEFAULT 0;
		BEGIN TRANSACTION;
		UPDATE %s SET is_current = FALSE, version_end = @version_end
		WHERE is_current AND CONCAT(collection_id, ':', id) IN UNNEST(@keys);
		SET tx_closed = @@row_count;
		UPDATE %s SET is_current = FALSE, version_end = @version_end
		WHERE is_current AND CONCAT(collection_id, ':', transaction_id) IN UNNEST(@keys);
		SET pay_closed = @@row_count;
		COMMIT TRANSACTION;
		SELECT tx_closed AS transactions, pay_closed AS payments;
	`, g.table(transactionsTable), g.table(paymentsTable))

	err := g.withRetry(ctx, "CloseOut", func(ctx context.Context) error {
		q := g.client.Query(script)
		q.Parameters = []bigquery.QueryParameter{
			{Name: "version_end", Value: at.UTC()},
			{Name: "keys", Value: keyParam(keys)},
		}
		it, err := q.Read(ctx)
		if err != nil {
			return fmt.Errorf("CloseOut: query read: %w", err)
		}
		var row struct {
			Transactions int64 `bigquery:"transactions"`
			Payments     int64 `bigquery:"payments"`
		}
		if err := it.Next(&row); err != nil && err != iterator.Done {
			return fmt.Errorf("CloseOut: iter next: %w", err)
		}
		res = storage.Superseded{Transactions: int(row.Transactions), Payments: int(row.Payments)}
		return nil
	})
	if err != nil {
		return storage.Superseded{}, err
	}
	return res, nil
}

// InsertVersions loads entries chunk by chunk. Each chunk is two load jobs,
// transactions first.
func (g *Gateway) InsertVersions(ctx context.Context, entries []domain.Entry) (storage.Inserted, error) {
	log := logger.FromContext(ctx)
	var total storage.Inserted
	if len(entries) == 0 {
		return total, nil
	}
	if err := g.EnsureSchema(ctx); err != nil {
		return total, err
	}

	chunks := storage.Chunks(entries, g.batchSize)
	for i, chunk := range chunks {
		txData, payData, counts, err := encodeChunk(chunk)
		if err != nil {
			return total, domain.E(domain.ErrStorageUnavailable, "InsertVersions", err)
		}
		if err := g.withRetry(ctx, "InsertVersions", func(ctx context.Context) error {
			return g.load(ctx, transactionsTable, txData)
		}); err != nil {
			return total, err
		}
		total.Transactions += counts.Transactions
		if counts.Payments > 0 {
			if err := g.withRetry(ctx, "InsertVersions", func(ctx context.Context) error {
				return g.load(ctx, paymentsTable, payData)
			}); err != nil {
				return total, err
			}
			total.Payments += counts.Payments
		}
		log.Debug().
			Int("chunk", i+1).
			Int("chunks", len(chunks)).
			Int("transactions", counts.Transactions).
			Int("payments", counts.Payments).
			Msg("Loaded chunk")
	}
	return total, nil
}

// encodeChunk renders a chunk as newline-delimited JSON per table.
func encodeChunk(chunk []domain.Entry) ([]byte, []byte, storage.Inserted, error) {
	var txBuf, payBuf bytes.Buffer
	var counts storage.Inserted
	txEnc, payEnc := json.NewEncoder(&txBuf), json.NewEncoder(&payBuf)
	for _, e := range chunk {
		if err := txEnc.Encode(toTransactionLoad(e.Transaction)); err != nil {
			return nil, nil, counts, fmt.Errorf("encode transaction %s: %w", e.Transaction.ID, err)
		}
		counts.Transactions++
		for _, p := range e.Payments {
			if err := payEnc.Encode(toPaymentLoad(p)); err != nil {
				return nil, nil, counts, fmt.Errorf("encode payment %s/%s: %w", p.TransactionID, p.ParticipantID, err)
			}
			counts.Payments++
		}
	}
	return txBuf.Bytes(), payBuf.Bytes(), counts, nil
}

func (g *Gateway) load(ctx context.Context, table string, data []byte) error {
	src := bigquery.NewReaderSource(bytes.NewReader(data))
	src.SourceFormat = bigquery.JSON
	loader := g.client.Dataset(g.dataset).Table(table).LoaderFrom(src)
	loader.WriteDisposition = bigquery.WriteAppend
	loader.CreateDisposition = bigquery.CreateNever

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("load %s: %w", table, err)
	}
	if err := runJob(ctx, job); err != nil {
		return fmt.Errorf("load %s: %w", table, err)
	}
	return nil
}

// LastCurrentUpdate returns MAX(version_start) of current rows, or nil on any failure.
func (g *Gateway) LastCurrentUpdate(ctx context.Context, collectionID string) *time.Time {
	log := logger.FromContext(ctx)

	q := g.client.Query(fmt.Sprintf(`
		SELECT MAX(version_start) AS latest
		FROM %s
		WHERE collection_id = @collection_id AND is_current
	`, g.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "collection_id", Value: collectionID}}

	it, err := q.Read(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Cursor query failed, falling back to full refresh")
		return nil
	}
	var row struct {
		Latest bigquery.NullTimestamp `bigquery:"latest"`
	}
	if err := it.Next(&row); err != nil || !row.Latest.Valid {
		return nil
	}
	t := row.Latest.Timestamp.UTC()
	return &t
}

func (g *Gateway) queryTransactions(ctx context.Context, op, sql string, params []bigquery.QueryParameter) ([]domain.Transaction, error) {
	q := g.client.Query(sql)
	q.Parameters = params
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: query read: %w", op, err)
	}

	var out []domain.Transaction
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: iter next: %w", op, err)
		}
		t, err := r.toDomain()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// CurrentTransactions returns the current version of every transaction in the collection.
func (g *Gateway) CurrentTransactions(ctx context.Context, collectionID string) ([]domain.Transaction, error) {
	return g.queryTransactions(ctx, "CurrentTransactions", fmt.Sprintf(`
		SELECT * FROM %s
		WHERE collection_id = @collection_id AND is_current
		ORDER BY occurred_at DESC, id
	`, g.table(transactionsTable)), []bigquery.QueryParameter{
		{Name: "collection_id", Value: collectionID},
	})
}

// History returns every version of one transaction, newest first.
func (g *Gateway) History(ctx context.Context, key domain.Key) ([]domain.Transaction, error) {
	return g.queryTransactions(ctx, "History", fmt.Sprintf(`
		SELECT * FROM %s
		WHERE collection_id = @collection_id AND id = @id
		ORDER BY version_start DESC, is_current DESC
	`, g.table(transactionsTable)), []bigquery.QueryParameter{
		{Name: "collection_id", Value: key.CollectionID},
		{Name: "id", Value: key.ID},
	})
}

// CurrentBalances sums current payment lines per participant.
func (g *Gateway) CurrentBalances(ctx context.Context, collectionID string) ([]domain.Balance, error) {
	q := g.client.Query(fmt.Sprintf(`
		SELECT
			participant_id,
			ANY_VALUE(participant_name) AS participant_name,
			SUM(paid_share) AS paid,
			SUM(owed_share) AS owed,
			SUM(net_balance) AS net
		FROM %s
		WHERE collection_id = @collection_id AND is_current
		GROUP BY participant_id
		ORDER BY participant_id
	`, g.table(paymentsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "collection_id", Value: collectionID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("CurrentBalances: query read: %w", err)
	}
	var out []domain.Balance
	for {
		var r balanceRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("CurrentBalances: iter next: %w", err)
		}
		b, err := r.toDomain(collectionID)
		if err != nil {
			return nil, fmt.Errorf("CurrentBalances: participant %s: %w", r.ParticipantID, err)
		}
		out = append(out, b)
	}
	return out, nil
}
