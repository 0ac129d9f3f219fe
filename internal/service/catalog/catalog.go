package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"gorm.io/gorm"

	"github.com/ndrozdov/storefront/internal/models"
	"github.com/ndrozdov/storefront/internal/repo"
	"github.com/ndrozdov/storefront/internal/syncstore"
	"github.com/ndrozdov/storefront/internal/util"
)

var (
	ErrValidation = errors.New("validation")
	ErrNotFound   = errors.New("not found")
)

// CategoryAll is the sentinel that disables category filtering.
const CategoryAll = "All"

const shareIDLength = 10

type Repo interface {
	CreateProduct(ctx context.Context, prod *models.Product) error
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetProductByShareID(ctx context.Context, shareID string) (*models.Product, error)
	GetUserProducts(ctx context.Context, userID uuid.UUID, offset, limit int, category string) (int64, []models.Product, error)
	UpdateProduct(ctx context.Context, id, userID uuid.UUID, upd repo.ProductUpdate) (*models.Product, error)
	DeleteProduct(ctx context.Context, id, userID uuid.UUID) error
	ToggleLike(ctx context.Context, userID, productID uuid.UUID) (bool, error)
	LikeCounts(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]int, error)
	LikedProductIDs(ctx context.Context, userID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}

type Service struct {
	Repo  Repo
	Cache *syncstore.Store

	// PageSize bounds listing pages; zero means util.DefaultPageSize.
	PageSize int
}

// Page is one cached slice of a user's listing with its pagination meta.
type Page struct {
	Products []models.Product `json:"products"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Total    int64            `json:"total"`
	HasMore  bool             `json:"has_more"`
}

func listPrefix(userID uuid.UUID) syncstore.Key {
	return syncstore.KeyOf("products", "list", userID.String())
}

func ListKey(userID uuid.UUID, page int, category string) syncstore.Key {
	if category == "" {
		category = CategoryAll
	}
	return syncstore.KeyOf("products", "list", userID.String(), strconv.Itoa(page), category)
}

func DetailKey(id uuid.UUID) syncstore.Key {
	return syncstore.KeyOf("products", "detail", id.String())
}

func ShareKey(shareID string) syncstore.Key {
	return syncstore.KeyOf("products", "share", shareID)
}

func (s *Service) pageSize() int {
	if s.PageSize > 0 {
		return s.PageSize
	}
	return util.DefaultPageSize
}

func (s *Service) listQuery(userID uuid.UUID, page int, category string) *syncstore.Query[Page] {
	return syncstore.NewQuery(s.Cache, ListKey(userID, page, category), func(ctx context.Context) (Page, error) {
		return s.fetchPage(ctx, userID, page, category)
	})
}

func (s *Service) fetchPage(ctx context.Context, userID uuid.UUID, page int, category string) (Page, error) {
	offset, limit := util.Calculate(page, s.pageSize())

	total, items, err := s.Repo.GetUserProducts(ctx, userID, offset, limit, category)
	if err != nil {
		return Page{}, err
	}

	if len(items) > 0 {
		ids := make([]uuid.UUID, len(items))
		for i, p := range items {
			ids[i] = p.ID
		}

		counts, err := s.Repo.LikeCounts(ctx, ids)
		if err != nil {
			return Page{}, err
		}
		liked, err := s.Repo.LikedProductIDs(ctx, userID, ids)
		if err != nil {
			return Page{}, err
		}

		for i := range items {
			items[i].LikesCount = counts[items[i].ID]
			items[i].HasLiked = liked[items[i].ID]
		}
	}

	return Page{
		Products: items,
		Page:     page,
		PageSize: limit,
		Total:    total,
		HasMore:  int64(offset+len(items)) < total,
	}, nil
}

// List returns one page of the user's products, newest first, with the
// viewer's like state overlaid. HasMore comes from the total count rather
// than a returned-size heuristic.
func (s *Service) List(ctx context.Context, userID uuid.UUID, page int, category string) (Page, error) {
	if page < 1 {
		page = 1
	}
	return s.listQuery(userID, page, category).Get(ctx)
}

type CreateInput struct {
	Name        string
	Description string
	Price       float64
	Category    *string
	Tags        []string
	ImageURLs   []string
}

// Create validates and stores a new product with a fresh share token.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, in CreateInput) (*models.Product, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("name is required: %w", ErrValidation)
	}
	if in.Price < 0 {
		return nil, fmt.Errorf("price cannot be negative: %w", ErrValidation)
	}
	if len(in.ImageURLs) == 0 {
		return nil, fmt.Errorf("at least one image is required: %w", ErrValidation)
	}

	shareID, err := gonanoid.New(shareIDLength)
	if err != nil {
		return nil, err
	}

	prod := models.Product{
		UserID:      userID,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Category:    in.Category,
		Tags:        dedupTags(in.Tags),
		ImageURLs:   in.ImageURLs,
		ShareID:     shareID,
	}

	err = s.Cache.Mutate(ctx, func(ctx context.Context) error {
		return s.Repo.CreateProduct(ctx, &prod)
	}, syncstore.Prefix(listPrefix(userID)))
	if err != nil {
		return nil, err
	}
	return &prod, nil
}

// Update patches a product; the repo enforces ownership in its WHERE
// clause, so a non-owner gets ErrNotFound rather than someone else's row.
func (s *Service) Update(ctx context.Context, userID, id uuid.UUID, upd repo.ProductUpdate) (*models.Product, error) {
	if upd.Price != nil && *upd.Price < 0 {
		return nil, fmt.Errorf("price cannot be negative: %w", ErrValidation)
	}
	if upd.ImageURLs != nil && len(upd.ImageURLs) == 0 {
		return nil, fmt.Errorf("at least one image is required: %w", ErrValidation)
	}
	if upd.Tags != nil {
		upd.Tags = dedupTags(upd.Tags)
	}

	var prod *models.Product
	err := s.Cache.Mutate(ctx, func(ctx context.Context) error {
		var err error
		prod, err = s.Repo.UpdateProduct(ctx, id, userID, upd)
		return err
	}, func(k syncstore.Key) bool {
		return k == DetailKey(id) || syncstore.Prefix(listPrefix(userID))(k) ||
			(prod != nil && k == ShareKey(prod.ShareID))
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return prod, nil
}

// Delete removes a product. Cart rows referencing it go with it, so every
// cached cart is invalidated as well.
func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	err := s.Cache.Mutate(ctx, func(ctx context.Context) error {
		return s.Repo.DeleteProduct(ctx, id, userID)
	}, func(k syncstore.Key) bool {
		return k == DetailKey(id) ||
			syncstore.Prefix(listPrefix(userID))(k) ||
			syncstore.Prefix("products/share/")(k) ||
			syncstore.Prefix("cart/")(k)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return err
}

// GetByID reads one product through the cache.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	q := syncstore.NewQuery(s.Cache, DetailKey(id), func(ctx context.Context) (*models.Product, error) {
		return s.Repo.GetProduct(ctx, id)
	})
	prod, err := q.Get(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return prod, err
}

// GetByShareID resolves a product by its immutable public share token.
func (s *Service) GetByShareID(ctx context.Context, shareID string) (*models.Product, error) {
	q := syncstore.NewQuery(s.Cache, ShareKey(shareID), func(ctx context.Context) (*models.Product, error) {
		return s.Repo.GetProductByShareID(ctx, shareID)
	})
	prod, err := q.Get(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("share %s: %w", shareID, ErrNotFound)
	}
	return prod, err
}

// ToggleLike flips the viewer's like and optimistically patches every
// cached listing page of theirs before the store call resolves: has_liked
// inverts and the count moves by one, rolled back if the write fails.
func (s *Service) ToggleLike(ctx context.Context, userID, productID uuid.UUID) (bool, error) {
	if productID == uuid.Nil {
		return false, fmt.Errorf("product id is required: %w", ErrValidation)
	}

	match := syncstore.Prefix(listPrefix(userID))
	keys := s.Cache.Keys(match)
	patches := make([]syncstore.Patch, 0, len(keys))
	for _, k := range keys {
		patches = append(patches, syncstore.Patch{Key: k, Apply: func(old any) any {
			page := old.(Page)
			out := make([]models.Product, len(page.Products))
			copy(out, page.Products)
			for i := range out {
				if out[i].ID == productID {
					if out[i].HasLiked {
						out[i].LikesCount--
					} else {
						out[i].LikesCount++
					}
					out[i].HasLiked = !out[i].HasLiked
				}
			}
			page.Products = out
			return page
		}})
	}

	liked := false
	err := s.Cache.MutateOptimistic(ctx, patches, func(ctx context.Context) error {
		var err error
		liked, err = s.Repo.ToggleLike(ctx, userID, productID)
		return err
	}, match)
	return liked, err
}

// dedupTags drops repeated tags, keeping first-occurrence order.
func dedupTags(tags []string) []string {
	if len(tags) == 0 {
		return tags
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
