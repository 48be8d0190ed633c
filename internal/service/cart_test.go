package service

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCartService_AddItem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedVariant(t, 10)
	owner := domain.GuestOwner("guest-a")

	summary, err := env.cart.AddItem(ctx, owner, v.ID, 2, domain.Options{"grind": "whole"})
	require.NoError(t, err)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, int32(2), summary.Items[0].Quantity)
	assert.Equal(t, v.SKU, summary.Items[0].SKU)
	assert.Equal(t, 2*testPriceCents, summary.SubtotalCents)
	assert.Equal(t, 2, summary.ItemCount)

	summary, err = env.cart.AddItem(ctx, owner, v.ID, 3, domain.Options{"grind": "whole"})
	require.NoError(t, err)
	require.Len(t, summary.Items, 1, "same variant and options increments the line")
	assert.Equal(t, int32(5), summary.Items[0].Quantity)
	assert.Equal(t, int32(5), env.variant(t, v.ID).ReservedUnits)

	summary, err = env.cart.AddItem(ctx, owner, v.ID, 1, domain.Options{"grind": "espresso"})
	require.NoError(t, err)
	assert.Len(t, summary.Items, 2, "different options get their own line")
	assert.Equal(t, int32(6), env.variant(t, v.ID).ReservedUnits)
}

func TestCartService_AddItemInsufficientStockLeavesCartUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedVariant(t, 3)
	owner := domain.GuestOwner("guest-a")

	_, err := env.cart.AddItem(ctx, owner, v.ID, 2, nil)
	require.NoError(t, err)

	_, err = env.cart.AddItem(ctx, owner, v.ID, 2, nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	summary, err := env.cart.Summary(ctx, owner)
	require.NoError(t, err)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, int32(2), summary.Items[0].Quantity)
	assert.Equal(t, int32(2), env.variant(t, v.ID).ReservedUnits)
}

func TestCartService_AddItemValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedVariant(t, 2000)
	owner := domain.GuestOwner("guest-a")

	tests := []struct {
		name    string
		owner   domain.Owner
		variant uuid.UUID
		qty     int32
		wantErr error
		code    string
	}{
		{name: "zero quantity", owner: owner, variant: v.ID, qty: 0, wantErr: domain.ErrInvalidQuantity},
		{name: "negative quantity", owner: owner, variant: v.ID, qty: -2, wantErr: domain.ErrInvalidQuantity},
		{name: "unknown variant", owner: owner, variant: uuid.New(), qty: 1, wantErr: domain.ErrVariantNotFound},
		{name: "above line cap", owner: owner, variant: v.ID, qty: domain.MaxLineQuantity + 1, code: domain.EINVALID},
		{name: "missing owner", owner: domain.Owner{}, variant: v.ID, qty: 1, code: domain.EINVALID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.cart.AddItem(ctx, tt.owner, tt.variant, tt.qty, nil)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.code != "" {
				assert.Equal(t, tt.code, domain.ErrorCode(err))
			}
		})
	}
	assert.Equal(t, int32(0), env.variant(t, v.ID).ReservedUnits)
}

func TestCartService_UpdateQuantity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedVariant(t, 10)
	owner := domain.GuestOwner("guest-a")

	summary, err := env.cart.AddItem(ctx, owner, v.ID, 2, nil)
	require.NoError(t, err)
	itemID := summary.Items[0].ID

	summary, err = env.cart.UpdateQuantity(ctx, owner, itemID, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(7), summary.Items[0].Quantity)
	assert.Equal(t, int32(7), env.variant(t, v.ID).ReservedUnits)

	_, err = env.cart.UpdateQuantity(ctx, owner, itemID, 11)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, int32(7), env.variant(t, v.ID).ReservedUnits)

	summary, err = env.cart.UpdateQuantity(ctx, owner, itemID, 0)
	require.NoError(t, err)
	assert.Empty(t, summary.Items)
	assert.Equal(t, int32(0), env.variant(t, v.ID).ReservedUnits)
}

func TestCartService_RemoveItemReleasesHold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedVariant(t, 10)
	owner := domain.GuestOwner("guest-a")

	summary, err := env.cart.AddItem(ctx, owner, v.ID, 4, nil)
	require.NoError(t, err)

	summary, err = env.cart.RemoveItem(ctx, owner, summary.Items[0].ID)
	require.NoError(t, err)
	assert.Empty(t, summary.Items)
	assert.Equal(t, int32(0), env.variant(t, v.ID).ReservedUnits)

	_, err = env.cart.RemoveItem(ctx, owner, uuid.New())
	assert.ErrorIs(t, err, domain.ErrCartItemNotFound)
}

func TestCartService_ItemOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedVariant(t, 10)
	alice := domain.GuestOwner("guest-alice")
	mallory := domain.GuestOwner("guest-mallory")

	summary, err := env.cart.AddItem(ctx, alice, v.ID, 2, nil)
	require.NoError(t, err)
	itemID := summary.Items[0].ID

	_, err = env.cart.UpdateQuantity(ctx, mallory, itemID, 5)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = env.cart.RemoveItem(ctx, mallory, itemID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	summary, err = env.cart.Summary(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int32(2), summary.Items[0].Quantity)
}

func TestCartService_SummaryWithoutCart(t *testing.T) {
	env := newTestEnv(t)

	summary, err := env.cart.Summary(context.Background(), domain.GuestOwner("guest-new"))
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, summary.CartID)
	assert.NotNil(t, summary.Items)
	assert.Empty(t, summary.Items)
	assert.Zero(t, summary.SubtotalCents)
}

func TestCartService_MergeGuestIntoUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v1 := env.seedVariant(t, 10)
	v2 := env.seedVariant(t, 10)
	guestID := "guest-a"
	guest := domain.GuestOwner(guestID)
	userID := mustUUID(t)
	user := domain.UserOwner(userID)

	_, err := env.cart.AddItem(ctx, user, v1.ID, 1, nil)
	require.NoError(t, err)
	_, err = env.cart.AddItem(ctx, guest, v1.ID, 2, nil)
	require.NoError(t, err)
	_, err = env.cart.AddItem(ctx, guest, v2.ID, 4, nil)
	require.NoError(t, err)

	result, err := env.cart.MergeGuestIntoUser(ctx, guestID, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Merged)
	assert.Empty(t, result.Dropped)
	require.Len(t, result.Cart.Items, 2)

	quantities := map[uuid.UUID]int32{}
	for _, it := range result.Cart.Items {
		quantities[it.VariantID] = it.Quantity
	}
	assert.Equal(t, int32(3), quantities[v1.ID])
	assert.Equal(t, int32(4), quantities[v2.ID])

	// Holds moved rather than doubled.
	assert.Equal(t, int32(3), env.variant(t, v1.ID).ReservedUnits)
	assert.Equal(t, int32(4), env.variant(t, v2.ID).ReservedUnits)

	guestHolds, err := env.reservations.ListActive(ctx, guest)
	require.NoError(t, err)
	assert.Empty(t, guestHolds)

	guestCart, err := env.cart.Summary(ctx, guest)
	require.NoError(t, err)
	assert.Empty(t, guestCart.Items)
}

func TestCartService_MergeDropsLinesThatCannotBeHeld(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	scarce := env.seedVariant(t, 3)
	plenty := env.seedVariant(t, 10)
	guestID := "guest-a"
	userID := mustUUID(t)

	_, err := env.cart.AddItem(ctx, domain.GuestOwner(guestID), scarce.ID, 2, nil)
	require.NoError(t, err)
	_, err = env.cart.AddItem(ctx, domain.GuestOwner(guestID), plenty.ID, 1, nil)
	require.NoError(t, err)

	// The guest's holds lapse and another shopper takes the scarce stock.
	env.clock.Advance(testTTL + time.Minute)
	_, err = env.cart.AddItem(ctx, domain.GuestOwner("guest-b"), scarce.ID, 3, nil)
	require.NoError(t, err)

	result, err := env.cart.MergeGuestIntoUser(ctx, guestID, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Merged)
	require.Len(t, result.Dropped, 1)
	assert.Equal(t, scarce.ID, result.Dropped[0].VariantID)
	assert.Equal(t, int32(2), result.Dropped[0].Quantity)
	assert.Equal(t, domain.ErrInsufficientStock.Message, result.Dropped[0].Reason)

	require.Len(t, result.Cart.Items, 1)
	assert.Equal(t, plenty.ID, result.Cart.Items[0].VariantID)

	assert.Equal(t, int32(3), env.variant(t, scarce.ID).ReservedUnits)
	assert.Equal(t, int32(1), env.variant(t, plenty.ID).ReservedUnits)
}

func TestCartService_MergeWithoutGuestCart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedVariant(t, 10)
	userID := mustUUID(t)

	_, err := env.cart.AddItem(ctx, domain.UserOwner(userID), v.ID, 1, nil)
	require.NoError(t, err)

	result, err := env.cart.MergeGuestIntoUser(ctx, "guest-none", userID)
	require.NoError(t, err)
	assert.Zero(t, result.Merged)
	assert.Empty(t, result.Dropped)
	require.Len(t, result.Cart.Items, 1)
}

func TestCartService_MergeCapsLineQuantity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.seedVariant(t, 5000)
	guestID := "guest-a"
	userID := mustUUID(t)

	_, err := env.cart.AddItem(ctx, domain.UserOwner(userID), v.ID, 600, nil)
	require.NoError(t, err)
	_, err = env.cart.AddItem(ctx, domain.GuestOwner(guestID), v.ID, 600, nil)
	require.NoError(t, err)

	result, err := env.cart.MergeGuestIntoUser(ctx, guestID, userID)
	require.NoError(t, err)
	require.Len(t, result.Cart.Items, 1)
	assert.Equal(t, int32(domain.MaxLineQuantity), result.Cart.Items[0].Quantity)
	assert.Equal(t, int32(domain.MaxLineQuantity), env.variant(t, v.ID).ReservedUnits)
}
