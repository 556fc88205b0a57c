package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

func seedProduct(t *testing.T, store *memory.Store, qty int) domain.Product {
	t.Helper()
	var product domain.Product
	err := store.InTx(context.Background(), func(ctx context.Context, repos domain.Repositories) error {
		var err error
		product, err = repos.Products.Create(ctx, domain.Product{
			Name:  "Кроссовки",
			Slug:  "sneakers",
			Price: decimal.RequireFromString("100.00"),
			Qty:   qty,
		})
		return err
	})
	require.NoError(t, err)
	return product
}

func TestStore_InTxRollback(t *testing.T) {
	store := memory.NewStore()
	product := seedProduct(t, store, 5)
	errBoom := errors.New("boom")

	err := store.InTx(context.Background(), func(ctx context.Context, repos domain.Repositories) error {
		ok, err := repos.Products.TakeStock(ctx, domain.ProductStock(product.ID), 3)
		require.NoError(t, err)
		require.True(t, ok)
		_, err = repos.Carts.Create(ctx, domain.Cart{})
		require.NoError(t, err)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	err = store.InTx(context.Background(), func(ctx context.Context, repos domain.Repositories) error {
		available, err := repos.Products.Available(ctx, domain.ProductStock(product.ID))
		require.NoError(t, err)
		assert.Equal(t, 5, available)

		_, err = repos.Carts.Get(ctx, 1)
		assert.ErrorIs(t, err, domain.ErrCartNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_InTxCanceledContext(t *testing.T) {
	store := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.InTx(ctx, func(context.Context, domain.Repositories) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestProductRepository_TakeStock(t *testing.T) {
	store := memory.NewStore()
	product := seedProduct(t, store, 2)

	err := store.InTx(context.Background(), func(ctx context.Context, repos domain.Repositories) error {
		ok, err := repos.Products.TakeStock(ctx, domain.ProductStock(product.ID), 3)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repos.Products.TakeStock(ctx, domain.ProductStock(product.ID), 2)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = repos.Products.TakeStock(ctx, domain.ProductStock(product.ID), 0)
		assert.ErrorIs(t, err, domain.ErrItemQtyInvalid)

		size, err := repos.Products.CreateSize(ctx, domain.Size{ProductID: product.ID, Value: decimal.RequireFromString("38"), Qty: 4})
		require.NoError(t, err)

		require.NoError(t, repos.Products.ReturnStock(ctx, domain.ProductStock(product.ID), 1))
		ok, err = repos.Products.TakeStock(ctx, domain.ProductStock(product.ID), 1)
		require.NoError(t, err)
		assert.False(t, ok, "product-level take must fail once sizes exist")

		ok, err = repos.Products.TakeStock(ctx, domain.SizeStock(product.ID, size.ID), 4)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = repos.Products.TakeStock(ctx, domain.SizeStock(product.ID+1, size.ID), 1)
		assert.ErrorIs(t, err, domain.ErrSizeNotFound)

		sum, count, err := repos.Products.SumSizes(ctx, product.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, sum)
		assert.Equal(t, 1, count)
		return nil
	})
	require.NoError(t, err)
}

func TestProductRepository_GetManyWithSizes(t *testing.T) {
	store := memory.NewStore()
	first := seedProduct(t, store, 1)
	second := seedProduct(t, store, 1)

	err := store.InTx(context.Background(), func(ctx context.Context, repos domain.Repositories) error {
		for _, v := range []string{"39", "38"} {
			_, err := repos.Products.CreateSize(ctx, domain.Size{ProductID: second.ID, Value: decimal.RequireFromString(v), Qty: 1})
			require.NoError(t, err)
		}
		_, err := repos.Products.CreateSize(ctx, domain.Size{ProductID: second.ID, Value: decimal.RequireFromString("38.0")})
		assert.ErrorIs(t, err, domain.ErrValidation)

		products, err := repos.Products.GetMany(ctx, []int64{first.ID, second.ID, 999})
		require.NoError(t, err)
		require.Len(t, products, 2)
		assert.Empty(t, products[first.ID].Sizes)
		require.Len(t, products[second.ID].Sizes, 2)
		assert.Equal(t, "38", products[second.ID].Sizes[0].Value.String())
		return nil
	})
	require.NoError(t, err)
}

func TestCartRepository_LinesAndTotals(t *testing.T) {
	store := memory.NewStore()
	customer := "customer-1"

	err := store.InTx(context.Background(), func(ctx context.Context, repos domain.Repositories) error {
		cart, err := repos.Carts.Create(ctx, domain.Cart{CustomerID: &customer})
		require.NoError(t, err)
		_, err = repos.Carts.Create(ctx, domain.Cart{CustomerID: &customer})
		require.ErrorIs(t, err, domain.ErrOpenCartExists)

		for _, line := range []domain.CartLine{
			{CartID: cart.ID, Key: "2", ProductID: 2, Qty: 1, UnitPrice: decimal.RequireFromString("10.00")},
			{CartID: cart.ID, Key: "1", ProductID: 1, Qty: 2, UnitPrice: decimal.RequireFromString("5.50")},
		} {
			_, err := repos.Carts.UpsertLine(ctx, line)
			require.NoError(t, err)
		}
		updated, err := repos.Carts.UpsertLine(ctx, domain.CartLine{CartID: cart.ID, Key: "2", ProductID: 2, Qty: 3, UnitPrice: decimal.RequireFromString("10.00")})
		require.NoError(t, err)
		assert.True(t, updated.FinalPrice.Equal(decimal.RequireFromString("30")))

		cart, err = repos.Carts.RecomputeTotals(ctx, cart.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, cart.TotalProduct)
		assert.True(t, cart.FinalPrice.Equal(decimal.RequireFromString("41.00")))

		lines, err := repos.Carts.Lines(ctx, cart.ID)
		require.NoError(t, err)
		require.Len(t, lines, 2)
		assert.Equal(t, domain.LineKey("1"), lines[0].Key)

		require.NoError(t, repos.Carts.DeleteLine(ctx, cart.ID, "missing"))

		open, err := repos.Carts.FindOpenByCustomer(ctx, customer)
		require.NoError(t, err)
		assert.Equal(t, cart.ID, open.ID)

		locked, err := repos.Carts.Lock(ctx, cart.ID)
		require.NoError(t, err)
		assert.True(t, locked)
		locked, err = repos.Carts.Lock(ctx, cart.ID)
		require.NoError(t, err)
		assert.False(t, locked)

		_, err = repos.Carts.FindOpenByCustomer(ctx, customer)
		assert.ErrorIs(t, err, domain.ErrCartNotFound)
		_, err = repos.Carts.Create(ctx, domain.Cart{CustomerID: &customer})
		require.NoError(t, err, "a locked cart does not block a new one")

		lines, err = repos.Carts.OpenLinesByProduct(ctx, 2)
		require.NoError(t, err)
		assert.Empty(t, lines)
		return nil
	})
	require.NoError(t, err)
}

func TestOrderRepository_SaveVersioning(t *testing.T) {
	store := memory.NewStore()
	customer := "customer-1"

	err := store.InTx(context.Background(), func(ctx context.Context, repos domain.Repositories) error {
		order := domain.Order{ID: "order-1", CustomerID: &customer, Status: domain.OrderStatusNew, Version: 1}
		require.NoError(t, repos.Orders.Create(ctx, order))
		assert.ErrorIs(t, repos.Orders.Create(ctx, order), domain.ErrOrderVersionConflict)

		order.Status = domain.OrderStatusInProgress
		require.NoError(t, repos.Orders.Save(ctx, order))
		assert.True(t, domain.IsVersionConflict(repos.Orders.Save(ctx, order)))

		stored, err := repos.Orders.Get(ctx, "order-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), stored.Version)

		list, err := repos.Orders.ListByCustomer(ctx, customer, 10)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		require.NoError(t, repos.Orders.Delete(ctx, "order-1"))
		_, err = repos.Orders.Get(ctx, "order-1")
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestOutbox_PullPendingInOrder(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	outbox := store.Outbox()

	for _, id := range []string{"c", "a", "b"} {
		_, err := outbox.Enqueue(ctx, domain.OutboxMessage{ID: id, EventType: domain.EventOrderPlaced})
		require.NoError(t, err)
	}
	require.NoError(t, outbox.MarkSent(ctx, "a"))

	pending, err := outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "c", pending[0].ID)
	assert.Equal(t, "b", pending[1].ID)

	stats, err := outbox.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PendingCount)

	assert.ErrorIs(t, outbox.MarkFailed(ctx, "missing"), domain.ErrOutboxPublish)
}

func TestSessionStore(t *testing.T) {
	ctx := context.Background()
	sessions := memory.NewSessionStore()

	_, ok, err := sessions.Get(ctx, "s-1", domain.GuestCartSessionKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, sessions.Set(ctx, "s-1", domain.GuestCartSessionKey, []byte(`{}`)))
	value, ok, err := sessions.Get(ctx, "s-1", domain.GuestCartSessionKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{}`, string(value))

	require.NoError(t, sessions.Delete(ctx, "s-1", domain.GuestCartSessionKey))
	_, ok, err = sessions.Get(ctx, "s-1", domain.GuestCartSessionKey)
	require.NoError(t, err)
	assert.False(t, ok)
}
