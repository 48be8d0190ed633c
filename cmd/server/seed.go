package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/repository"
	"github.com/google/uuid"
)

// seedDevCatalog loads a small catalog so the in-memory store is usable
// without a database. Variant ids are logged for use with the API.
func seedDevCatalog(ctx context.Context, q repository.Querier, logger *slog.Logger) error {
	productID := uuid.New()
	variants := []*domain.Variant{
		{ID: uuid.New(), ProductID: productID, SKU: "ETH-YIRG-340", Name: "Ethiopia Yirgacheffe 340g", PriceCents: 1900, StockUnits: 50},
		{ID: uuid.New(), ProductID: productID, SKU: "ETH-YIRG-1000", Name: "Ethiopia Yirgacheffe 1kg", PriceCents: 4800, StockUnits: 10},
		{ID: uuid.New(), ProductID: uuid.New(), SKU: "COL-HUI-340", Name: "Colombia Huila 340g", PriceCents: 1700, StockUnits: 3},
	}
	for _, v := range variants {
		if err := q.CreateVariant(ctx, v); err != nil {
			return fmt.Errorf("create variant %s: %w", v.SKU, err)
		}
		logger.Info("seeded variant", "variant_id", v.ID, "sku", v.SKU, "stock", v.StockUnits)
	}

	coupons := []*domain.Coupon{
		{ID: uuid.New(), Code: "WELCOME10", DiscountType: domain.DiscountPercentage, DiscountValue: 1000, MaxUsesPerUser: 1, Active: true},
		{ID: uuid.New(), Code: "FIVEOFF", DiscountType: domain.DiscountFixed, DiscountValue: 500, MinOrderCents: 3000, MaxUsesGlobal: 100, Active: true},
	}
	for _, c := range coupons {
		if err := q.CreateCoupon(ctx, c); err != nil {
			return fmt.Errorf("create coupon %s: %w", c.Code, err)
		}
	}
	return nil
}
