package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ndrozdov/storefront/internal/models"
)

// ToggleLike flips the like relation atomically: a delete that removes a row
// means the user had liked the product; zero rows means the like is created.
// The composite primary key plus ON CONFLICT DO NOTHING keeps concurrent
// toggles from ever producing duplicate rows.
func (r *GormRepo) ToggleLike(ctx context.Context, userID, productID uuid.UUID) (bool, error) {
	liked := false
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND product_id = ?", userID, productID).Delete(&models.ProductLike{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}

		liked = true
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.ProductLike{UserID: userID, ProductID: productID}).Error
	})
	return liked, err
}

// LikeCounts aggregates like totals for the given products at read time.
func (r *GormRepo) LikeCounts(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int, len(productIDs))
	if len(productIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		ProductID uuid.UUID
		Total     int
	}
	if err := r.DB.WithContext(ctx).Model(&models.ProductLike{}).
		Select("product_id, COUNT(*) AS total").
		Where("product_id IN ?", productIDs).
		Group("product_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	for _, row := range rows {
		counts[row.ProductID] = row.Total
	}
	return counts, nil
}

// LikedProductIDs returns which of the given products the viewer has liked.
func (r *GormRepo) LikedProductIDs(ctx context.Context, userID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	liked := make(map[uuid.UUID]bool, len(productIDs))
	if len(productIDs) == 0 {
		return liked, nil
	}

	var rows []models.ProductLike
	if err := r.DB.WithContext(ctx).
		Where("user_id = ? AND product_id IN ?", userID, productIDs).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	for _, row := range rows {
		liked[row.ProductID] = true
	}
	return liked, nil
}
