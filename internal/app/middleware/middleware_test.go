package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ncpwheels/internal/app/commands"
	"ncpwheels/internal/app/live"
	appoutbox "ncpwheels/internal/app/outbox"
	"ncpwheels/internal/app/queries"
	"ncpwheels/internal/app/uow"
	"ncpwheels/internal/domain/chat"
)

type echoCommand struct {
	key    string
	result string
}

func (c echoCommand) Key() string            { return "test.echo" }
func (c echoCommand) IdempotencyKey() string { return c.key }
func (c echoCommand) ResultPrototype() any   { return new(string) }

type plainCommand struct{}

func (plainCommand) Key() string { return "test.plain" }

type busFunc func(ctx context.Context, cmd commands.Command) (any, error)

func (f busFunc) Dispatch(ctx context.Context, cmd commands.Command) (any, error) { return f(ctx, cmd) }

type memoryIdempotency struct {
	mu   sync.Mutex
	recs map[string]IdempotencyRecord
}

func (m *memoryIdempotency) Get(_ context.Context, key string) (IdempotencyRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key]
	return rec, ok, nil
}

func (m *memoryIdempotency) Save(_ context.Context, rec IdempotencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recs == nil {
		m.recs = map[string]IdempotencyRecord{}
	}
	m.recs[rec.Key] = rec
	return nil
}

type recordingUnit struct {
	commits, rollbacks int
}

func (u *recordingUnit) Conversations() chat.Repository { return nil }
func (u *recordingUnit) Commit(context.Context) error   { u.commits++; return nil }
func (u *recordingUnit) Rollback(context.Context) error { u.rollbacks++; return nil }

type unitFactory struct{ unit *recordingUnit }

func (f unitFactory) Begin(context.Context, uow.TxOptions) (uow.UnitOfWork, error) { return f.unit, nil }

type countingOutbox struct{ flushes int }

func (o *countingOutbox) Add(context.Context, appoutbox.EventRecord) error { return nil }
func (o *countingOutbox) Flush(context.Context) error                      { o.flushes++; return nil }

type publishedSignals struct{ sigs []live.Signal }

func (p *publishedSignals) Publish(_ context.Context, sig live.Signal) error {
	p.sigs = append(p.sigs, sig)
	return nil
}

func TestChainCommandsRunsOutermostFirst(t *testing.T) {
	var order []string
	mark := func(name string) CommandMiddleware {
		return func(next commands.Bus) commands.Bus {
			return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
				order = append(order, name)
				return next.Dispatch(ctx, cmd)
			})
		}
	}
	base := busFunc(func(context.Context, commands.Command) (any, error) {
		order = append(order, "handler")
		return "ok", nil
	})
	bus := ChainCommands(base, mark("a"), nil, mark("b"))
	res, err := bus.Dispatch(context.Background(), plainCommand{})
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestIdempotencyReplaysStoredResult(t *testing.T) {
	calls := 0
	base := busFunc(func(_ context.Context, cmd commands.Command) (any, error) {
		calls++
		return cmd.(echoCommand).result, nil
	})
	bus := ChainCommands(base, Idempotency(&memoryIdempotency{}, nil, nil))

	first, err := commands.Dispatch[echoCommand, string](context.Background(), bus, echoCommand{key: "k1", result: "first"})
	require.NoError(t, err)
	again, err := commands.Dispatch[echoCommand, string](context.Background(), bus, echoCommand{key: "k1", result: "second"})
	require.NoError(t, err)

	assert.Equal(t, "first", first)
	assert.Equal(t, "first", again)
	assert.Equal(t, 1, calls)

	_, err = commands.Dispatch[echoCommand, string](context.Background(), bus, echoCommand{result: "unkeyed"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestIdempotencySkipsFailures(t *testing.T) {
	calls := 0
	base := busFunc(func(context.Context, commands.Command) (any, error) {
		calls++
		if calls == 1 {
			return nil, chat.Transient("store", errors.New("timeout"))
		}
		return "done", nil
	})
	bus := ChainCommands(base, Idempotency(&memoryIdempotency{}, nil, nil))

	_, err := bus.Dispatch(context.Background(), echoCommand{key: "k"})
	require.ErrorIs(t, err, chat.ErrTransientStore)
	res, err := bus.Dispatch(context.Background(), echoCommand{key: "k"})
	require.NoError(t, err)
	assert.Equal(t, "done", res)
	assert.Equal(t, 2, calls)
}

func TestTransactionCommitsOrRollsBack(t *testing.T) {
	unit := &recordingUnit{}
	fail := false
	base := busFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
		_, ok := uow.FromContext(ctx)
		assert.True(t, ok)
		if fail {
			return nil, errors.New("handler failed")
		}
		return "ok", nil
	})
	bus := ChainCommands(base, Transaction(unitFactory{unit: unit}, nil))

	_, err := bus.Dispatch(context.Background(), plainCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, unit.commits)
	assert.Zero(t, unit.rollbacks)

	fail = true
	_, err = bus.Dispatch(context.Background(), plainCommand{})
	require.Error(t, err)
	assert.Equal(t, 1, unit.commits)
	assert.Equal(t, 1, unit.rollbacks)
}

type retryingFactory struct {
	unitFactory
	retryable error
}

func (f retryingFactory) Retryable(err error) bool { return errors.Is(err, f.retryable) }

func TestTransactionRetriesRetryableFailures(t *testing.T) {
	errConflict := errors.New("write conflict")
	cases := []struct {
		name      string
		failures  int
		failWith  error
		wantCalls int
		wantErr   bool
	}{
		{name: "recovers", failures: 2, failWith: errConflict, wantCalls: 3},
		{name: "gives up", failures: MaxTransactionAttempts, failWith: errConflict, wantCalls: MaxTransactionAttempts, wantErr: true},
		{name: "not retryable", failures: 1, failWith: errors.New("bad input"), wantCalls: 1, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			unit := &recordingUnit{}
			calls := 0
			base := busFunc(func(context.Context, commands.Command) (any, error) {
				calls++
				if calls <= tc.failures {
					return nil, tc.failWith
				}
				return "ok", nil
			})
			bus := ChainCommands(base, Transaction(retryingFactory{unitFactory: unitFactory{unit: unit}, retryable: errConflict}, nil))

			res, err := bus.Dispatch(context.Background(), plainCommand{})
			assert.Equal(t, tc.wantCalls, calls)
			if tc.wantErr {
				require.Error(t, err)
				assert.Zero(t, unit.commits)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ok", res)
			assert.Equal(t, 1, unit.commits)
			assert.Equal(t, tc.failures, unit.rollbacks)
		})
	}
}

func TestTransactionJoinedUnitRunsOnce(t *testing.T) {
	errConflict := errors.New("write conflict")
	calls := 0
	base := busFunc(func(context.Context, commands.Command) (any, error) {
		calls++
		return nil, errConflict
	})
	outer := &recordingUnit{}
	bus := ChainCommands(base, Transaction(retryingFactory{unitFactory: unitFactory{unit: &recordingUnit{}}, retryable: errConflict}, nil))

	ctx := uow.ContextWithUnitOfWork(context.Background(), outer)
	_, err := bus.Dispatch(ctx, plainCommand{})
	require.ErrorIs(t, err, errConflict)
	assert.Equal(t, 1, calls)
	assert.Zero(t, outer.rollbacks)
}

type failingSaves struct {
	memoryIdempotency
}

func (f *failingSaves) Save(context.Context, IdempotencyRecord) error {
	return chat.Transient("save", errors.New("primary stepped down"))
}

type transactionalUnit struct {
	recordingUnit
}

func (u *transactionalUnit) Transactional() bool { return true }

func TestIdempotencySaveFailureDependsOnTransaction(t *testing.T) {
	base := busFunc(func(_ context.Context, cmd commands.Command) (any, error) {
		return cmd.(echoCommand).result, nil
	})
	bus := ChainCommands(base, Idempotency(&failingSaves{}, nil, nil))

	res, err := bus.Dispatch(context.Background(), echoCommand{key: "k", result: "sent"})
	require.NoError(t, err)
	assert.Equal(t, "sent", res)

	ctx := uow.ContextWithUnitOfWork(context.Background(), &transactionalUnit{})
	_, err = bus.Dispatch(ctx, echoCommand{key: "k", result: "sent"})
	assert.ErrorIs(t, err, chat.ErrTransientStore)
}

func TestIdempotencyRecordSharesCommandUnit(t *testing.T) {
	unit := &transactionalUnit{}
	store := &memoryIdempotency{}
	var sawUnit bool
	base := busFunc(func(_ context.Context, cmd commands.Command) (any, error) {
		return cmd.(echoCommand).result, nil
	})
	spy := func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			sawUnit = uow.IsTransactional(ctx)
			return next.Dispatch(ctx, cmd)
		})
	}
	bus := ChainCommands(base,
		Transaction(unitFactory{unit: &unit.recordingUnit}, nil),
		spy,
		Idempotency(store, nil, nil),
	)
	_, err := bus.Dispatch(context.Background(), echoCommand{key: "k", result: "sent"})
	require.NoError(t, err)
	assert.False(t, sawUnit)
	assert.Equal(t, 1, unit.commits)

	bus = ChainCommands(base,
		Transaction(txFactory{unit: unit}, nil),
		spy,
		Idempotency(store, nil, nil),
	)
	_, err = bus.Dispatch(context.Background(), echoCommand{key: "k2", result: "sent"})
	require.NoError(t, err)
	assert.True(t, sawUnit)
	assert.Equal(t, 2, unit.commits)
}

type txFactory struct{ unit *transactionalUnit }

func (f txFactory) Begin(context.Context, uow.TxOptions) (uow.UnitOfWork, error) { return f.unit, nil }

func TestOutboxFlushOnlyAfterSuccess(t *testing.T) {
	box := &countingOutbox{}
	fail := false
	base := busFunc(func(context.Context, commands.Command) (any, error) {
		if fail {
			return nil, errors.New("nope")
		}
		return nil, nil
	})
	bus := ChainCommands(base, OutboxFlush(box, nil))

	_, err := bus.Dispatch(context.Background(), plainCommand{})
	require.NoError(t, err)
	fail = true
	_, err = bus.Dispatch(context.Background(), plainCommand{})
	require.Error(t, err)
	assert.Equal(t, 1, box.flushes)
}

type committedOutbox struct {
	unit           *recordingUnit
	commitsAtFlush int
	err            error
}

func (o *committedOutbox) Add(context.Context, appoutbox.EventRecord) error { return nil }
func (o *committedOutbox) Flush(context.Context) error {
	o.commitsAtFlush = o.unit.commits
	return o.err
}

func TestOutboxFlushFollowsCommitAndKeepsResult(t *testing.T) {
	unit := &recordingUnit{}
	box := &committedOutbox{unit: unit, err: errors.New("broker down")}
	base := busFunc(func(context.Context, commands.Command) (any, error) { return "sent", nil })
	bus := ChainCommands(base, OutboxFlush(box, nil), Transaction(unitFactory{unit: unit}, nil))

	res, err := bus.Dispatch(context.Background(), plainCommand{})
	require.NoError(t, err)
	assert.Equal(t, "sent", res)
	assert.Equal(t, 1, box.commitsAtFlush)
}

func TestSignalsPublishesExtractedSignals(t *testing.T) {
	pub := &publishedSignals{}
	extract := func(_ commands.Command, result any) []live.Signal {
		return []live.Signal{{ConversationID: chat.ConversationID(result.(string)), Messages: true}}
	}
	base := busFunc(func(context.Context, commands.Command) (any, error) { return "c1", nil })
	bus := ChainCommands(base, Signals(pub, extract, nil))

	_, err := bus.Dispatch(context.Background(), plainCommand{})
	require.NoError(t, err)
	require.Len(t, pub.sigs, 1)
	assert.Equal(t, chat.ConversationID("c1"), pub.sigs[0].ConversationID)

	failing := ChainCommands(busFunc(func(context.Context, commands.Command) (any, error) {
		return nil, errors.New("boom")
	}), Signals(pub, extract, nil))
	_, err = failing.Dispatch(context.Background(), plainCommand{})
	require.Error(t, err)
	assert.Len(t, pub.sigs, 1)
}

type denyAll struct{}

func (denyAll) Authorize(context.Context, any) error { return chat.ErrUnauthorized }
func (denyAll) Validate(context.Context, any) error  { return chat.ErrEmptyContent }

type plainQuery struct{}

func (plainQuery) Key() string { return "test.query" }

type queryBusFunc func(ctx context.Context, q queries.Query) (any, error)

func (f queryBusFunc) Ask(ctx context.Context, q queries.Query) (any, error) { return f(ctx, q) }

func TestGuardsStopBeforeHandler(t *testing.T) {
	called := false
	base := busFunc(func(context.Context, commands.Command) (any, error) { called = true; return nil, nil })

	_, err := ChainCommands(base, Validation(denyAll{})).Dispatch(context.Background(), plainCommand{})
	assert.ErrorIs(t, err, chat.ErrValidation)
	_, err = ChainCommands(base, Authorization(denyAll{})).Dispatch(context.Background(), plainCommand{})
	assert.ErrorIs(t, err, chat.ErrUnauthorized)

	qbase := queryBusFunc(func(context.Context, queries.Query) (any, error) { called = true; return nil, nil })
	_, err = ChainQueries(qbase, QueryAuthorization(denyAll{})).Ask(context.Background(), plainQuery{})
	assert.ErrorIs(t, err, chat.ErrUnauthorized)
	_, err = ChainQueries(qbase, QueryValidation(denyAll{})).Ask(context.Background(), plainQuery{})
	assert.ErrorIs(t, err, chat.ErrValidation)
	assert.False(t, called)
}

func TestMiddlewareConstructorsRejectNil(t *testing.T) {
	assert.Panics(t, func() { Idempotency(nil, nil, nil) })
	assert.Panics(t, func() { Transaction(nil, nil) })
	assert.Panics(t, func() { OutboxFlush(nil, nil) })
	assert.Panics(t, func() { Signals(nil, nil, nil) })
	assert.Panics(t, func() { Validation(nil) })
	assert.Panics(t, func() { QueryAuthorization(nil) })
}
