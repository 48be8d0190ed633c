package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/repository"
	"github.com/dukerupert/kaupa/internal/telemetry"
	"github.com/google/uuid"
)

type cartService struct {
	store  repository.Store
	holds  *holds
	clock  Clock
	logger *slog.Logger
}

// NewCartService creates a new CartService. Every line is backed by a
// reservation that lives for reservationTTL after its last change.
func NewCartService(store repository.Store, clock Clock, reservationTTL time.Duration, logger *slog.Logger) domain.CartService {
	if reservationTTL <= 0 {
		reservationTTL = domain.DefaultReservationTTL
	}
	return &cartService{
		store:  store,
		holds:  &holds{clock: clock, ttl: reservationTTL, logger: logger},
		clock:  clock,
		logger: logger,
	}
}

func (s *cartService) inTx(ctx context.Context, op string, fn func(q repository.Querier) error) error {
	return withRetry(ctx, s.logger, op, func(ctx context.Context) error {
		return s.store.ExecTx(ctx, fn)
	})
}

// AddItem adds a variant to the cart or increments the existing line
func (s *cartService) AddItem(ctx context.Context, owner domain.Owner, variantID uuid.UUID, qty int32, opts domain.Options) (*domain.CartSummary, error) {
	const op = "cart.add_item"
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, domain.WithOp(domain.ErrInvalidQuantity, op)
	}
	if err := domain.ValidateOptions(opts); err != nil {
		return nil, err
	}

	var summary *domain.CartSummary
	err := s.inTx(ctx, op, func(q repository.Querier) error {
		if _, err := q.GetVariant(ctx, variantID); err != nil {
			return storeError(err, op, domain.ErrVariantNotFound)
		}

		now := s.clock.Now()
		cart, err := s.getOrCreateCart(ctx, q, op, owner, now)
		if err != nil {
			return err
		}

		key := domain.OptionsKey(opts)
		item, err := q.GetCartItemByKey(ctx, cart.ID, variantID, key)
		if err != nil && !isNotFound(err) {
			return storeError(err, op, nil)
		}

		newQty := qty
		if item != nil {
			newQty += item.Quantity
		}
		if newQty > domain.MaxLineQuantity {
			return domain.Errorf(domain.EINVALID, op, "Quantity may not exceed %d per item", domain.MaxLineQuantity)
		}

		if _, err := s.holds.upsert(ctx, q, op, owner, variantID, newQty, opts); err != nil {
			return err
		}

		if item != nil {
			if err := q.UpdateCartItemQuantity(ctx, item.ID, newQty, now); err != nil {
				return storeError(err, op, domain.ErrCartItemNotFound)
			}
		} else {
			err := q.InsertCartItem(ctx, &domain.CartItem{
				CartID:     cart.ID,
				VariantID:  variantID,
				Options:    opts,
				OptionsKey: key,
				Quantity:   newQty,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
			if err != nil {
				return storeError(err, op, nil)
			}
		}

		summary, err = s.summary(ctx, q, op, owner)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			s.logger.Info("add to cart rejected: insufficient stock",
				"owner", owner.Key(),
				"variant_id", variantID,
				"quantity", qty,
			)
		}
		return nil, err
	}

	if telemetry.Business != nil {
		telemetry.Business.CartItemsAdded.WithLabelValues(ownerType(owner)).Inc()
	}
	return summary, nil
}

// UpdateQuantity sets a line's quantity. If quantity is 0, the item is removed
func (s *cartService) UpdateQuantity(ctx context.Context, owner domain.Owner, itemID uuid.UUID, qty int32) (*domain.CartSummary, error) {
	const op = "cart.update_quantity"
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if qty < 0 {
		return nil, domain.WithOp(domain.ErrInvalidQuantity, op)
	}
	if qty > domain.MaxLineQuantity {
		return nil, domain.Errorf(domain.EINVALID, op, "Quantity may not exceed %d per item", domain.MaxLineQuantity)
	}

	var summary *domain.CartSummary
	err := s.inTx(ctx, op, func(q repository.Querier) error {
		item, err := s.ownedItem(ctx, q, op, owner, itemID)
		if err != nil {
			return err
		}

		if _, err := s.holds.upsert(ctx, q, op, owner, item.VariantID, qty, item.Options); err != nil {
			return err
		}
		if qty == 0 {
			if err := q.DeleteCartItem(ctx, item.ID); err != nil {
				return storeError(err, op, nil)
			}
		} else if err := q.UpdateCartItemQuantity(ctx, item.ID, qty, s.clock.Now()); err != nil {
			return storeError(err, op, domain.ErrCartItemNotFound)
		}

		summary, err = s.summary(ctx, q, op, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// RemoveItem removes a line from the cart and releases its hold
func (s *cartService) RemoveItem(ctx context.Context, owner domain.Owner, itemID uuid.UUID) (*domain.CartSummary, error) {
	const op = "cart.remove_item"
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var summary *domain.CartSummary
	err := s.inTx(ctx, op, func(q repository.Querier) error {
		item, err := s.ownedItem(ctx, q, op, owner, itemID)
		if err != nil {
			return err
		}
		if err := s.holds.remove(ctx, q, op, owner, item.VariantID, item.Options); err != nil {
			return err
		}
		if err := q.DeleteCartItem(ctx, item.ID); err != nil {
			return storeError(err, op, nil)
		}
		summary, err = s.summary(ctx, q, op, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// Summary returns the owner's cart. An owner without a cart gets an empty one.
func (s *cartService) Summary(ctx context.Context, owner domain.Owner) (*domain.CartSummary, error) {
	const op = "cart.summary"
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var summary *domain.CartSummary
	err := withRetry(ctx, s.logger, op, func(ctx context.Context) error {
		var err error
		summary, err = s.summary(ctx, s.store, op, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// MergeGuestIntoUser folds the guest cart into the user's cart in one
// transaction. Each guest hold is re-keyed to the user and topped up to the
// combined quantity; a line whose units can no longer be held is dropped.
func (s *cartService) MergeGuestIntoUser(ctx context.Context, guestID string, userID uuid.UUID) (*domain.MergeResult, error) {
	const op = "cart.merge"
	guest := domain.GuestOwner(guestID)
	user := domain.UserOwner(userID)
	if err := guest.Validate(); err != nil {
		return nil, err
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}

	var result *domain.MergeResult
	err := s.inTx(ctx, op, func(q repository.Querier) error {
		result = &domain.MergeResult{}

		guestCart, err := q.GetCartByOwner(ctx, guest.Key())
		if isNotFound(err) {
			result.Cart, err = s.summary(ctx, q, op, user)
			return err
		}
		if err != nil {
			return storeError(err, op, nil)
		}

		guestItems, err := q.ListCartItems(ctx, guestCart.ID)
		if err != nil {
			return storeError(err, op, nil)
		}

		now := s.clock.Now()
		var userCart *domain.Cart
		if len(guestItems) > 0 {
			if userCart, err = s.getOrCreateCart(ctx, q, op, user, now); err != nil {
				return err
			}
		}

		for _, gi := range guestItems {
			dropped, err := s.mergeLine(ctx, q, op, guest, user, userCart, gi, now)
			if err != nil {
				return err
			}
			if dropped != nil {
				result.Dropped = append(result.Dropped, *dropped)
				continue
			}
			result.Merged++
		}

		// Holds without a cart line, or left behind by dropped lines.
		if err := s.holds.removeAll(ctx, q, op, guest); err != nil {
			return err
		}
		if err := q.DeleteCart(ctx, guestCart.ID); err != nil {
			return storeError(err, op, nil)
		}

		result.Cart, err = s.summary(ctx, q, op, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(result.Dropped) > 0 {
		s.logger.Info("cart merge dropped lines",
			"guest", guest.Key(),
			"user", user.Key(),
			"merged", result.Merged,
			"dropped", len(result.Dropped),
		)
	}
	if telemetry.Business != nil {
		outcome := "merged"
		switch {
		case result.Merged == 0 && len(result.Dropped) == 0:
			outcome = "empty"
		case len(result.Dropped) > 0:
			outcome = "partial"
		}
		telemetry.Business.CartMerges.WithLabelValues(outcome).Inc()
		telemetry.Business.MergeDropped.Add(float64(len(result.Dropped)))
	}
	return result, nil
}

// mergeLine moves one guest line into the user cart. It returns a
// DroppedLine instead of an error when the units cannot be held.
func (s *cartService) mergeLine(ctx context.Context, q repository.Querier, op string, guest, user domain.Owner, userCart *domain.Cart, gi domain.CartItem, now time.Time) (*domain.DroppedLine, error) {
	userItem, err := q.GetCartItemByKey(ctx, userCart.ID, gi.VariantID, gi.OptionsKey)
	if err != nil && !isNotFound(err) {
		return nil, storeError(err, op, nil)
	}
	userHeld, err := s.holds.heldQuantity(ctx, q, op, user, gi.VariantID, gi.OptionsKey)
	if err != nil {
		return nil, err
	}

	target := gi.Quantity
	if userItem != nil {
		target += userItem.Quantity
	}
	if target > domain.MaxLineQuantity {
		target = domain.MaxLineQuantity
	}

	if err := s.holds.rekey(ctx, q, op, guest, user, gi.VariantID, gi.Options); err != nil {
		return nil, err
	}
	_, err = s.holds.upsert(ctx, q, op, user, gi.VariantID, target, gi.Options)
	if err != nil {
		reason, ok := dropReason(err)
		if !ok {
			return nil, err
		}
		// Put the user's own hold back the way it was.
		if userHeld > 0 {
			_, err = s.holds.upsert(ctx, q, op, user, gi.VariantID, userHeld, gi.Options)
		} else {
			err = s.holds.remove(ctx, q, op, user, gi.VariantID, gi.Options)
		}
		if err != nil {
			return nil, err
		}
		return &domain.DroppedLine{
			VariantID: gi.VariantID,
			SKU:       gi.SKU,
			Options:   gi.Options,
			Quantity:  gi.Quantity,
			Reason:    reason,
		}, nil
	}

	if userItem != nil {
		if err := q.UpdateCartItemQuantity(ctx, userItem.ID, target, now); err != nil {
			return nil, storeError(err, op, domain.ErrCartItemNotFound)
		}
		return nil, nil
	}
	err = q.InsertCartItem(ctx, &domain.CartItem{
		CartID:     userCart.ID,
		VariantID:  gi.VariantID,
		Options:    gi.Options,
		OptionsKey: gi.OptionsKey,
		Quantity:   target,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	return nil, storeError(err, op, nil)
}

// dropReason reports whether a merge failure drops the line rather than
// aborting the whole merge.
func dropReason(err error) (string, bool) {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return domain.ErrInsufficientStock.Message, true
	case errors.Is(err, domain.ErrVariantNotFound):
		return "This product is no longer available", true
	}
	return "", false
}

// ownedItem loads a cart item and checks it sits in the owner's cart.
func (s *cartService) ownedItem(ctx context.Context, q repository.Querier, op string, owner domain.Owner, itemID uuid.UUID) (*domain.CartItem, error) {
	item, err := q.GetCartItem(ctx, itemID)
	if err != nil {
		return nil, storeError(err, op, domain.ErrCartItemNotFound)
	}

	cart, err := q.GetCartByOwner(ctx, owner.Key())
	if err != nil && !isNotFound(err) {
		return nil, storeError(err, op, nil)
	}
	if cart == nil || cart.ID != item.CartID {
		s.logger.Warn("cart item ownership mismatch",
			"op", op,
			"owner", owner.Key(),
			"item_id", itemID,
			"item_cart_id", item.CartID,
		)
		return nil, domain.WithOp(domain.ErrUnauthorized, op)
	}
	return item, nil
}

func (s *cartService) getOrCreateCart(ctx context.Context, q repository.Querier, op string, owner domain.Owner, now time.Time) (*domain.Cart, error) {
	cart, err := q.GetCartByOwner(ctx, owner.Key())
	if err == nil {
		return cart, nil
	}
	if !isNotFound(err) {
		return nil, storeError(err, op, nil)
	}

	cart = &domain.Cart{Owner: owner, CreatedAt: now, UpdatedAt: now}
	if err := q.CreateCart(ctx, cart); err != nil {
		return nil, storeError(err, op, nil)
	}
	return cart, nil
}

func (s *cartService) summary(ctx context.Context, q repository.Querier, op string, owner domain.Owner) (*domain.CartSummary, error) {
	cart, err := q.GetCartByOwner(ctx, owner.Key())
	if isNotFound(err) {
		return domain.NewCartSummary(uuid.Nil, owner, nil), nil
	}
	if err != nil {
		return nil, storeError(err, op, nil)
	}

	items, err := q.ListCartItems(ctx, cart.ID)
	if err != nil {
		return nil, storeError(err, op, nil)
	}
	return domain.NewCartSummary(cart.ID, owner, items), nil
}

func ownerType(o domain.Owner) string {
	if o.IsUser() {
		return "user"
	}
	return "guest"
}
