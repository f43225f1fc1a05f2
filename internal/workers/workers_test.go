package workers

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clutchstake/backend/internal/audit"
	"github.com/clutchstake/backend/internal/events"
	"github.com/clutchstake/backend/internal/metrics"
	"github.com/clutchstake/backend/internal/models"
	"github.com/clutchstake/backend/internal/services"
	"github.com/clutchstake/backend/internal/store"
)

type recordingSink struct {
	mu     sync.Mutex
	name   string
	failOn string
	got    []string
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, e models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == s.failOn {
		return errors.New("broker unavailable")
	}
	s.got = append(s.got, e.ID)
	return nil
}

func (s *recordingSink) published() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func newTestStore(t *testing.T) *store.BoltStore {
	t.Helper()
	st, err := store.OpenBolt(filepath.Join(t.TempDir(), "escrow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func enqueue(t *testing.T, st store.Store, ids ...string) {
	t.Helper()
	require.NoError(t, st.Update(context.Background(), func(tx store.Tx) error {
		for _, id := range ids {
			err := tx.EnqueueEvent(&models.Event{
				ID:          id,
				Type:        models.EventMatchCreated,
				AggregateID: "m-1",
				Payload:     []byte(`{}`),
				CreatedAt:   time.Now().UTC(),
			})
			if err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestOutboxRelay_RelayOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes to every sink in order", func(t *testing.T) {
		st := newTestStore(t)
		m := metrics.New(prometheus.NewRegistry())
		enqueue(t, st, "e-1", "e-2", "e-3")

		kafkaSink := &recordingSink{name: "kafka"}
		redisSink := &recordingSink{name: "redis"}
		relay := NewOutboxRelay(st, []events.Publisher{kafkaSink, redisSink}, m, zap.NewNop(), 2)

		n, err := relay.RelayOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = relay.RelayOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = relay.RelayOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		assert.Equal(t, []string{"e-1", "e-2", "e-3"}, kafkaSink.published())
		assert.Equal(t, []string{"e-1", "e-2", "e-3"}, redisSink.published())
		assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsPublished))
	})

	t.Run("failed event stays pending", func(t *testing.T) {
		st := newTestStore(t)
		m := metrics.New(prometheus.NewRegistry())
		enqueue(t, st, "e-1", "e-2", "e-3")

		sink := &recordingSink{name: "kafka", failOn: "e-2"}
		relay := NewOutboxRelay(st, []events.Publisher{sink}, m, zap.NewNop(), 10)

		n, err := relay.RelayOnce(ctx)
		require.Error(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrors.WithLabelValues("kafka")))

		sink.mu.Lock()
		sink.failOn = ""
		sink.mu.Unlock()

		n, err = relay.RelayOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []string{"e-1", "e-2", "e-3"}, sink.published())
	})
}

func TestOutboxRelay_Run(t *testing.T) {
	st := newTestStore(t)
	enqueue(t, st, "e-1")
	sink := &recordingSink{name: "log"}
	relay := NewOutboxRelay(st, []events.Publisher{sink}, metrics.New(prometheus.NewRegistry()), zap.NewNop(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(sink.published()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

func TestEscalationSweeper_Run(t *testing.T) {
	st := newTestStore(t)
	logger := zap.NewNop()
	auditLogger := audit.NewAuditLogger(logger)
	m := metrics.New(prometheus.NewRegistry())
	ledger := services.NewLedgerService(st, auditLogger, m, logger)
	registry := services.NewMatchRegistry(st, auditLogger, m)
	escrow := services.NewEscrowService(st, ledger, registry, auditLogger, m, logger, services.EscrowConfig{
		FeeBps:            1000,
		PlatformAccountID: "platform",
		ResultDeadline:    -time.Minute,
		MinStake:          1,
	})
	wallet := services.NewWalletService(st, ledger, logger)

	ctx := context.Background()
	for _, acct := range []string{"host", "opp"} {
		_, err := wallet.Deposit(ctx, acct, 1000, "seed-"+acct)
		require.NoError(t, err)
	}
	match, err := escrow.CreateMatch(ctx, "host", 1000, "")
	require.NoError(t, err)
	_, err = escrow.JoinMatch(ctx, match.ID, "opp")
	require.NoError(t, err)
	_, err = escrow.SubmitResult(ctx, match.ID, "host", "host", "")
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go NewEscalationSweeper(escrow, logger, 10).Run(runCtx, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		got, err := escrow.GetMatch(ctx, match.ID)
		return err == nil && got.State == models.MatchDisputed
	}, time.Second, 5*time.Millisecond)

	balance, err := ledger.GetBalance(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestReconciler_Run(t *testing.T) {
	st := newTestStore(t)
	logger := zap.NewNop()
	m := metrics.New(prometheus.NewRegistry())
	ledger := services.NewLedgerService(st, audit.NewAuditLogger(logger), m, logger)

	require.NoError(t, st.Update(context.Background(), func(tx store.Tx) error {
		if _, err := tx.LockAccount("drifted"); err != nil {
			return err
		}
		return tx.SaveAccountBalance("drifted", 50, 0)
	}))
	m.ReconcileMismatches.Set(-1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewReconciler(ledger, m, logger).Run(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ReconcileMismatches) == 1
	}, time.Second, 5*time.Millisecond)
}
