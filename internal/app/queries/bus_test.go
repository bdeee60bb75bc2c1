package queries

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ncpwheels/internal/domain/chat"
)

type count struct{ n int }

func (count) Key() string { return "test.count" }

func TestAskRoutesByKey(t *testing.T) {
	bus := NewInMemoryBus()
	RegisterHandler[count, []int](bus, count{}.Key(), HandlerFunc[count, []int](func(_ context.Context, q count) ([]int, error) {
		out := make([]int, q.n)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}))

	got, err := Ask[count, []int](context.Background(), bus, count{n: 3})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, got)

	_, err = Ask[count, string](context.Background(), bus, count{n: 1})
	assert.ErrorIs(t, err, ErrResultType)
}

func TestAskUnknownQuery(t *testing.T) {
	_, err := NewInMemoryBus().Ask(context.Background(), count{})
	assert.ErrorIs(t, err, ErrHandlerNotFound)

	_, err = Ask[count, int](context.Background(), nil, count{})
	assert.ErrorIs(t, err, ErrNilBus)
}

func TestAskStopsOnDoneContext(t *testing.T) {
	called := false
	bus := NewInMemoryBus()
	RegisterHandler[count, int](bus, count{}.Key(), HandlerFunc[count, int](func(context.Context, count) (int, error) {
		called = true
		return 0, nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Ask[count, int](ctx, bus, count{})
	assert.ErrorIs(t, err, chat.ErrTransientStore)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestRegistration(t *testing.T) {
	bus := NewInMemoryBus()
	RegisterHandler[count, int](bus, count{}.Key(), HandlerFunc[count, int](func(context.Context, count) (int, error) { return 0, nil }))
	assert.Equal(t, []string{"test.count"}, bus.Keys())

	assert.Panics(t, func() { bus.RegisterRaw(count{}.Key(), func(context.Context, Query) (any, error) { return nil, nil }) })
	assert.Panics(t, func() { bus.RegisterRaw("test.nil", nil) })
	assert.Panics(t, func() { RegisterHandler[count, int](bus, "test.typed", nil) })

	_, err := bus.Ask(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidQuery)
	assert.ErrorIs(t, err, chat.ErrValidation)
}
