package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/ndrozdov/storefront/internal/models"
)

// ProductUpdate carries the mutable product fields; nil means "leave as is".
type ProductUpdate struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	Price       *float64       `json:"price"`
	Category    *string        `json:"category"`
	Tags        pq.StringArray `json:"tags"`
	ImageURLs   pq.StringArray `json:"image_urls"`
}

func (r *GormRepo) CreateProduct(ctx context.Context, prod *models.Product) error {
	return r.DB.WithContext(ctx).Create(prod).Error
}

func (r *GormRepo) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var prod models.Product
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&prod).Error; err != nil {
		return nil, err
	}
	return &prod, nil
}

func (r *GormRepo) GetProductByShareID(ctx context.Context, shareID string) (*models.Product, error) {
	var prod models.Product
	if err := r.DB.WithContext(ctx).Where("share_id = ?", shareID).First(&prod).Error; err != nil {
		return nil, err
	}
	return &prod, nil
}

// GetUserProducts returns one page of the owner's products, newest first,
// optionally filtered by exact category. The total count covers the whole
// filtered set, not just the returned page.
func (r *GormRepo) GetUserProducts(ctx context.Context, userID uuid.UUID, offset, limit int, category string) (int64, []models.Product, error) {
	q := r.DB.WithContext(ctx).Model(&models.Product{}).Where("user_id = ?", userID)
	if category != "" && category != "All" {
		q = q.Where("category = ?", category)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return 0, nil, err
	}

	var items []models.Product
	if err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return 0, nil, err
	}

	return total, items, nil
}

// UpdateProduct applies the patch only when the row belongs to userID, so
// ownership is enforced at the store boundary rather than trusted from the
// caller's state.
func (r *GormRepo) UpdateProduct(ctx context.Context, id, userID uuid.UUID, upd ProductUpdate) (*models.Product, error) {
	var prod models.Product
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&prod).Error; err != nil {
			return err
		}

		if upd.Name != nil {
			prod.Name = *upd.Name
		}
		if upd.Description != nil {
			prod.Description = *upd.Description
		}
		if upd.Price != nil {
			prod.Price = *upd.Price
		}
		if upd.Category != nil {
			prod.Category = upd.Category
		}
		if upd.Tags != nil {
			prod.Tags = upd.Tags
		}
		if upd.ImageURLs != nil {
			prod.ImageURLs = upd.ImageURLs
		}

		return tx.Save(&prod).Error
	})
	if err != nil {
		return nil, err
	}
	return &prod, nil
}

// DeleteProduct removes the product and its dependent cart rows and likes.
// The explicit deletes back up the FK cascade for stores that lack it.
func (r *GormRepo) DeleteProduct(ctx context.Context, id, userID uuid.UUID) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&models.Product{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		if err := tx.Where("product_id = ?", id).Delete(&models.CartItem{}).Error; err != nil {
			return err
		}
		return tx.Where("product_id = ?", id).Delete(&models.ProductLike{}).Error
	})
}
