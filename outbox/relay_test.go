package outbox

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyflow/db/dbtest"
)

func TestDrainOnce_FailingNotifierRetriesThenParks(t *testing.T) {
	table := &outboxTable{rows: []*outboxRow{
		{id: "msg-1", topic: TopicQuoteAccepted, status: "pending", payload: []byte(`{"quote_id":"q-1"}`)},
	}}
	notifier := &failingNotifier{}
	relay := NewRelay(table, notifier, nil).WithMaxAttempts(3)
	ctx := context.Background()

	for attempt := 1; attempt <= 2; attempt++ {
		stats, err := relay.DrainOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Failed: 1}, stats)
		assert.Equal(t, "pending", table.rows[0].status)
		assert.Equal(t, attempt, table.rows[0].attempts)
		assert.Equal(t, "smtp: connection refused", table.rows[0].lastError)
		assert.True(t, table.txs[len(table.txs)-1].Committed)
	}

	stats, err := relay.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Dead: 1}, stats)
	assert.Equal(t, "dead", table.rows[0].status)
	assert.Equal(t, 3, table.rows[0].attempts)

	// Dead rows are no longer claimed.
	stats, err = relay.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats)
	assert.Equal(t, 3, notifier.calls)
	assert.Equal(t, "q-1", notifier.last.Payload["quote_id"])

	// Failures only ever touch the outbox row.
	for _, stmt := range table.statements {
		assert.Contains(t, stmt, "outbox")
		for _, other := range []string{"quotes", "orders", "referral_commissions", "audit_entries"} {
			assert.NotContains(t, stmt, other)
		}
	}
}

func TestDrainOnce_SentMessagesAreProcessed(t *testing.T) {
	table := &outboxTable{rows: []*outboxRow{
		{id: "msg-1", topic: TopicQuoteAccepted, status: "pending", payload: []byte(`{"quote_id":"q-1"}`)},
		{id: "msg-2", topic: TopicProjectDelivered, status: "pending", payload: []byte(`not json`)},
		{id: "msg-3", topic: TopicQuoteIssued, status: "dead", attempts: 5},
	}}
	notifier := &recordingNotifier{}
	relay := NewRelay(table, notifier, nil)

	stats, err := relay.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Sent: 2}, stats)
	require.Len(t, notifier.msgs, 2)
	assert.Equal(t, "msg-1", notifier.msgs[0].ID)
	assert.Empty(t, notifier.msgs[1].Payload)

	assert.Equal(t, "processed", table.rows[0].status)
	assert.Equal(t, 1, table.rows[0].attempts)
	assert.Equal(t, "processed", table.rows[1].status)
	assert.Equal(t, "dead", table.rows[2].status)
}

func TestDrainOnce_BatchSizeLimitsClaim(t *testing.T) {
	table := &outboxTable{}
	for _, id := range []string{"a", "b", "c"} {
		table.rows = append(table.rows, &outboxRow{id: id, topic: TopicQuoteIssued, status: "pending", payload: []byte(`{}`)})
	}
	relay := NewRelay(table, &recordingNotifier{}, nil).WithBatchSize(2)

	stats, err := relay.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Sent)
	assert.Equal(t, "pending", table.rows[2].status)
}

func TestDrainOnce_BeginError(t *testing.T) {
	relay := NewRelay(&dbtest.FakePool{BeginErr: errors.New("pool closed")}, &recordingNotifier{}, nil)
	_, err := relay.DrainOnce(context.Background())
	assert.ErrorContains(t, err, "pool closed")
}

type failingNotifier struct {
	calls int
	last  Message
}

func (f *failingNotifier) Notify(ctx context.Context, msg Message) error {
	f.calls++
	f.last = msg
	return errors.New("smtp: connection refused")
}

type recordingNotifier struct{ msgs []Message }

func (f *recordingNotifier) Notify(ctx context.Context, msg Message) error {
	f.msgs = append(f.msgs, msg)
	return nil
}

type outboxRow struct {
	id        string
	topic     string
	status    string
	payload   []byte
	attempts  int
	lastError string
}

// outboxTable stands in for the outbox table. It understands the relay's
// claim query and its two update statements.
type outboxTable struct {
	rows       []*outboxRow
	statements []string
	txs        []*dbtest.FakeTx
}

func (o *outboxTable) Begin(ctx context.Context) (pgx.Tx, error) {
	tx := &outboxTx{FakeTx: &dbtest.FakeTx{}, table: o}
	o.txs = append(o.txs, tx.FakeTx)
	return tx, nil
}

type outboxTx struct {
	*dbtest.FakeTx
	table *outboxTable
}

func (tx *outboxTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	tx.table.statements = append(tx.table.statements, sql)
	limit := args[0].(int)
	var claimed []*outboxRow
	for _, row := range tx.table.rows {
		if row.status == "pending" && len(claimed) < limit {
			claimed = append(claimed, row)
		}
	}
	return &claimRows{rows: claimed, i: -1}, nil
}

func (tx *outboxTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.table.statements = append(tx.table.statements, sql)
	id := args[0].(string)
	for _, row := range tx.table.rows {
		if row.id != id {
			continue
		}
		row.attempts++
		if strings.Contains(sql, "'processed'") {
			row.status = "processed"
			row.lastError = ""
		} else {
			row.status = args[1].(string)
			row.lastError = args[2].(string)
		}
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return pgconn.NewCommandTag("UPDATE 0"), nil
}

type claimRows struct {
	rows []*outboxRow
	i    int
}

func (r *claimRows) Close()                                       {}
func (r *claimRows) Err() error                                   { return nil }
func (r *claimRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *claimRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *claimRows) Values() ([]any, error)                       { return nil, errors.New("not implemented") }
func (r *claimRows) RawValues() [][]byte                          { return nil }
func (r *claimRows) Conn() *pgx.Conn                              { return nil }

func (r *claimRows) Next() bool {
	r.i++
	return r.i < len(r.rows)
}

func (r *claimRows) Scan(dest ...any) error {
	row := r.rows[r.i]
	*dest[0].(*string) = row.id
	*dest[1].(*string) = row.topic
	*dest[2].(*[]byte) = row.payload
	*dest[3].(*int) = row.attempts
	return nil
}
