package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

type Product struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey"         json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;index;not null"     json:"user_id"`
	Name        string         `gorm:"not null"                     json:"name"`
	Description string         `gorm:"not null"                     json:"description"`
	Price       float64        `gorm:"not null;check:price >= 0"    json:"price"`
	Category    *string        `json:"category"`
	Tags        pq.StringArray `gorm:"type:text[]"                  json:"tags"`
	ImageURLs   pq.StringArray `gorm:"type:text[];not null"         json:"image_urls"`
	ShareID     string         `gorm:"uniqueIndex;size:21;not null" json:"share_id"`
	CreatedAt   time.Time      `json:"created_at"`

	LikesCount int  `gorm:"-" json:"likes_count"`
	HasLiked   bool `gorm:"-" json:"has_liked"`
}

type CartItem struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"                                 json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_cart_user_product" json:"user_id"`
	ProductID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_cart_user_product" json:"product_id"`
	Quantity  int       `gorm:"not null;default:1;check:quantity > 0"                json:"quantity"`
	CreatedAt time.Time `json:"created_at"`

	Product *Product `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"product,omitempty"`
}

type ProductLike struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	ProductID uuid.UUID `gorm:"type:uuid;primaryKey" json:"product_id"`
	CreatedAt time.Time `json:"created_at"`

	Product *Product `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"-"`
}

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"     json:"id"`
	Email        string    `gorm:"uniqueIndex;not null"     json:"email"`
	PasswordHash string    `gorm:"not null"                 json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type RefreshToken struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"     json:"id"`
	Token     string    `gorm:"uniqueIndex;not null"     json:"token"`
	UserID    uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	ExpiresAt time.Time `gorm:"not null"                 json:"expires_at"`
	Revoked   bool      `gorm:"default:false"            json:"revoked"`
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (i *CartItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (t *RefreshToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
