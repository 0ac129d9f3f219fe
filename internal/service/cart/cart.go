package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ndrozdov/storefront/internal/logging"
	"github.com/ndrozdov/storefront/internal/models"
	"github.com/ndrozdov/storefront/internal/syncstore"
)

var (
	ErrValidation = errors.New("validation")
	ErrNotFound   = errors.New("not found")
	ErrEmptyCart  = errors.New("cart is empty")
)

type Repo interface {
	GetCart(ctx context.Context, userID uuid.UUID) ([]models.CartItem, error)
	AddToCart(ctx context.Context, item *models.CartItem) error
	UpdateCartQuantity(ctx context.Context, itemID, userID uuid.UUID, quantity int) error
	RemoveFromCart(ctx context.Context, itemID, userID uuid.UUID) error
	ClearCart(ctx context.Context, userID uuid.UUID) error
}

type Service struct {
	Repo  Repo
	Cache *syncstore.Store

	// CheckoutDelay simulates payment processing before the cart is cleared.
	CheckoutDelay time.Duration
}

func ListKey(userID uuid.UUID) syncstore.Key {
	return syncstore.KeyOf("cart", "list", userID.String())
}

func matchUser(userID uuid.UUID) func(syncstore.Key) bool {
	return syncstore.Prefix(ListKey(userID))
}

func (s *Service) itemsQuery(userID uuid.UUID) *syncstore.Query[[]models.CartItem] {
	return syncstore.NewQuery(s.Cache, ListKey(userID), func(ctx context.Context) ([]models.CartItem, error) {
		return s.Repo.GetCart(ctx, userID)
	})
}

// Items reads the user's cart through the cache.
func (s *Service) Items(ctx context.Context, userID uuid.UUID) ([]models.CartItem, error) {
	return s.itemsQuery(userID).Get(ctx)
}

// Add puts quantity of a product into the cart, incrementing the existing
// row when there is one. The write itself is not optimistic: on failure the
// cached cart is left unchanged.
func (s *Service) Add(ctx context.Context, userID, productID uuid.UUID, quantity int) (*models.CartItem, error) {
	if productID == uuid.Nil {
		return nil, fmt.Errorf("product id is required: %w", ErrValidation)
	}
	if quantity < 1 {
		quantity = 1
	}

	item := models.CartItem{UserID: userID, ProductID: productID, Quantity: quantity}
	err := s.Cache.Mutate(ctx, func(ctx context.Context) error {
		return s.Repo.AddToCart(ctx, &item)
	}, matchUser(userID))
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateQuantity sets a cart row's quantity optimistically. A quantity
// below 1 is rejected as a no-op: the cache stays untouched and no store
// call is issued.
func (s *Service) UpdateQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) error {
	if quantity < 1 {
		return nil
	}

	q := s.itemsQuery(userID)
	patch := syncstore.PatchQuery(q, func(old []models.CartItem) []models.CartItem {
		out := make([]models.CartItem, len(old))
		copy(out, old)
		for i := range out {
			if out[i].ID == itemID {
				out[i].Quantity = quantity
			}
		}
		return out
	})

	err := s.Cache.MutateOptimistic(ctx, []syncstore.Patch{patch}, func(ctx context.Context) error {
		return s.Repo.UpdateCartQuantity(ctx, itemID, userID, quantity)
	}, matchUser(userID))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("cart item %s: %w", itemID, ErrNotFound)
	}
	return err
}

// Remove deletes a cart row, optimistically dropping it from the cached
// cart under the same snapshot/rollback rule as quantity updates.
func (s *Service) Remove(ctx context.Context, userID, itemID uuid.UUID) error {
	q := s.itemsQuery(userID)
	patch := syncstore.PatchQuery(q, func(old []models.CartItem) []models.CartItem {
		out := make([]models.CartItem, 0, len(old))
		for _, it := range old {
			if it.ID != itemID {
				out = append(out, it)
			}
		}
		return out
	})

	err := s.Cache.MutateOptimistic(ctx, []syncstore.Patch{patch}, func(ctx context.Context) error {
		return s.Repo.RemoveFromCart(ctx, itemID, userID)
	}, matchUser(userID))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("cart item %s: %w", itemID, ErrNotFound)
	}
	return err
}

// Clear drops every cart row for the user.
func (s *Service) Clear(ctx context.Context, userID uuid.UUID) error {
	return s.Cache.Mutate(ctx, func(ctx context.Context) error {
		return s.Repo.ClearCart(ctx, userID)
	}, matchUser(userID))
}

// ProductIDs reports which products are already in the user's cart.
func (s *Service) ProductIDs(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]bool, error) {
	items, err := s.Items(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make(map[uuid.UUID]bool, len(items))
	for _, it := range items {
		ids[it.ProductID] = true
	}
	return ids, nil
}

type CheckoutResult struct {
	Total decimal.Decimal `json:"total"`
	Items int             `json:"items"`
}

// Checkout reads the authoritative cart, simulates payment processing for
// CheckoutDelay, then clears the cart. No order rows are written.
func (s *Service) Checkout(ctx context.Context, userID uuid.UUID) (*CheckoutResult, error) {
	l := logging.FromContext(ctx).With("svc", "cart.checkout")

	items, err := s.Repo.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	if s.CheckoutDelay > 0 {
		select {
		case <-time.After(s.CheckoutDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := s.Clear(ctx, userID); err != nil {
		return nil, err
	}

	res := &CheckoutResult{Total: Total(items), Items: len(items)}
	l.Info("checkout_complete", "user_id", userID, "items", res.Items, "total", res.Total)
	return res, nil
}

// Total sums quantity x price over the cart. A missing product join
// contributes 0 rather than failing the whole computation.
func Total(items []models.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if it.Product == nil {
			continue
		}
		price := decimal.NewFromFloat(it.Product.Price)
		total = total.Add(price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}
