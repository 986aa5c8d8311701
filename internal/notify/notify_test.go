package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-sniffer/internal/domain"
)

func testToken() *domain.TokenRecord {
	return &domain.TokenRecord{
		Mint:       "mint1",
		Name:       "Test",
		Symbol:     "TST",
		Verdict:    domain.VerdictApproved,
		Score:      120,
		AssessedAt: 1700000000000,
	}
}

func testRun() *domain.AnalysisRun {
	return &domain.AnalysisRun{
		ID:             "run1",
		Mint:           "mint1",
		RunAt:          1700000000000,
		PriceUSD:       decimal.RequireFromString("0.5"),
		PriceAvailable: true,
		Wallets: []domain.WalletMetrics{
			{Wallet: "w1", Rank: 1, BalanceUSD: decimal.NewFromInt(100)},
			{Wallet: "w2", Rank: 2, BalanceUSD: decimal.NewFromInt(50)},
		},
		Dropped: 1,
	}
}

func TestRedisNotifier(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx := context.Background()
	n, err := NewRedisNotifier(ctx, RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.TokenAssessed(ctx, testToken()))
	require.NoError(t, n.RunCompleted(ctx, testRun()))

	tokens, err := mr.Stream(DefaultTokenStream)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	values := tokens[0].Values
	require.Len(t, values, 6)
	assert.Equal(t, []string{"mint", "mint1", "verdict", "approved"}, values[:4])

	var ev TokenEvent
	require.NoError(t, json.Unmarshal([]byte(values[5]), &ev))
	assert.Equal(t, "TST", ev.Symbol)
	assert.Empty(t, ev.Factors)

	runs, err := mr.Stream(DefaultRunStream)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run1", runs[0].Values[3])
}

func TestNewRedisNotifier_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisNotifier(context.Background(), RedisConfig{Addr: addr})
	assert.Error(t, err)
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaNotifier(t *testing.T) {
	w := &fakeWriter{}
	n := newKafkaNotifier(w, KafkaConfig{})
	ctx := context.Background()

	require.NoError(t, n.TokenAssessed(ctx, testToken()))
	require.NoError(t, n.RunCompleted(ctx, testRun()))
	require.Len(t, w.msgs, 2)

	assert.Equal(t, DefaultTokenTopic, w.msgs[0].Topic)
	assert.Equal(t, "mint1", string(w.msgs[0].Key))

	var ev RunEvent
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &ev))
	assert.Equal(t, DefaultRunTopic, w.msgs[1].Topic)
	assert.Equal(t, 2, ev.Wallets)
	assert.Equal(t, "w1", ev.TopWallet)
	assert.True(t, ev.TopBalanceUSD.Equal(decimal.NewFromInt(100)))

	require.NoError(t, n.Close())
	assert.True(t, w.closed)
}

func TestKafkaNotifier_WriteError(t *testing.T) {
	boom := errors.New("broker down")
	n := newKafkaNotifier(&fakeWriter{err: boom}, KafkaConfig{TokenTopic: "t"})

	err := n.TokenAssessed(context.Background(), testToken())
	assert.True(t, errors.Is(err, boom))
}

type countingNotifier struct {
	tokens, runs int
	err          error
}

func (c *countingNotifier) TokenAssessed(context.Context, *domain.TokenRecord) error {
	c.tokens++
	return c.err
}

func (c *countingNotifier) RunCompleted(context.Context, *domain.AnalysisRun) error {
	c.runs++
	return c.err
}

func (c *countingNotifier) Close() error { return nil }

func TestMulti_CallsEveryNotifier(t *testing.T) {
	boom := errors.New("boom")
	a := &countingNotifier{err: boom}
	b := &countingNotifier{}
	m := Multi{a, b, Nop{}}

	err := m.TokenAssessed(context.Background(), testToken())
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, a.tokens)
	assert.Equal(t, 1, b.tokens)

	err = m.RunCompleted(context.Background(), testRun())
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, b.runs)
	assert.NoError(t, m.Close())
}
