package cart_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/cart"
)

func TestReconcile_ClampsAndHalts(t *testing.T) {
	for name, h := range handles() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			first := f.product(t, "10.00", 5)
			second := f.product(t, "20.00", 5)
			third := f.product(t, "30.00", 5)

			for _, p := range []domain.Product{first, second, third} {
				_, err := f.carts.AddItem(ctx, h, p.ID, nil, 4)
				require.NoError(t, err)
			}
			require.NoError(t, f.catalog.SetProductQty(ctx, first.ID, 2))
			require.NoError(t, f.catalog.SetProductQty(ctx, second.ID, 0))

			report, err := f.carts.ReconcileBeforeCheckout(ctx, h)
			require.NoError(t, err)
			require.True(t, report.NeedsRecheck)
			require.Len(t, report.Warnings, 1)
			assert.Equal(t, cart.WarningReduced, report.Warnings[0].Kind)
			assert.Equal(t, domain.NewLineKey(first.ID, nil), report.Warnings[0].Key)
			assert.Equal(t, 4, report.Warnings[0].Requested)
			assert.Equal(t, 2, report.Warnings[0].Available)

			view, err := f.carts.View(ctx, h)
			require.NoError(t, err)
			require.Len(t, view.Lines, 3)
			assert.Equal(t, 2, view.Lines[0].Qty)
			assert.Equal(t, 4, view.Lines[1].Qty, "reconciliation must halt before the second line")
			assertAggregates(t, view)

			report, err = f.carts.ReconcileBeforeCheckout(ctx, h)
			require.NoError(t, err)
			require.True(t, report.NeedsRecheck)
			assert.Equal(t, cart.WarningUnavailable, report.Warnings[0].Kind)
			assert.Equal(t, domain.NewLineKey(second.ID, nil), report.Warnings[0].Key)

			report, err = f.carts.ReconcileBeforeCheckout(ctx, h)
			require.NoError(t, err)
			assert.False(t, report.NeedsRecheck)
			assert.Empty(t, report.Warnings)

			view, err = f.carts.View(ctx, h)
			require.NoError(t, err)
			assert.Len(t, view.Lines, 2)
			assert.Equal(t, 6, view.TotalItems)
			assertAggregates(t, view)
		})
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	for name, h := range handles() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			product := f.product(t, "10.00", 5)
			_, err := f.carts.AddItem(ctx, h, product.ID, nil, 3)
			require.NoError(t, err)

			before, err := f.carts.View(ctx, h)
			require.NoError(t, err)

			for i := 0; i < 2; i++ {
				report, err := f.carts.ReconcileBeforeCheckout(ctx, h)
				require.NoError(t, err)
				assert.False(t, report.NeedsRecheck)
			}

			after, err := f.carts.View(ctx, h)
			require.NoError(t, err)
			assert.Equal(t, before.TotalItems, after.TotalItems)
			assert.True(t, before.TotalPrice.Equal(after.TotalPrice))
		})
	}
}

func TestReconcile_RemovesVanishedSize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	product := f.product(t, "10.00", 0, size("38", 3), size("39", 3))
	h := cart.Guest("session-9")
	_, err := f.carts.AddItem(ctx, h, product.ID, dec("38"), 1)
	require.NoError(t, err)

	require.NoError(t, f.catalog.DeleteSize(ctx, product.Sizes[0].ID))

	view, err := f.carts.View(ctx, h)
	require.NoError(t, err)
	assert.Empty(t, view.Lines)

	report, err := f.carts.ReconcileBeforeCheckout(ctx, h)
	require.NoError(t, err)
	require.True(t, report.NeedsRecheck)
	assert.Equal(t, cart.WarningUnavailable, report.Warnings[0].Kind)

	report, err = f.carts.ReconcileBeforeCheckout(ctx, h)
	require.NoError(t, err)
	assert.False(t, report.NeedsRecheck)
}

func TestCustomerCart_SizeDeletionDropsLine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	product := f.product(t, "10.00", 0, size("38", 3), size("39", 3))
	h := cart.Customer("customer-5")
	_, err := f.carts.AddItem(ctx, h, product.ID, dec("38"), 1)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, h, product.ID, dec("39"), 2)
	require.NoError(t, err)

	require.NoError(t, f.catalog.DeleteSize(ctx, product.Sizes[0].ID))

	view, err := f.carts.View(ctx, h)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, 2, view.TotalItems)
	assertAggregates(t, view)
}
