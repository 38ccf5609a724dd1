package model

import "time"

// BaseModel is an alternative to gorm.Model with a UUID primary key and no
// soft delete; rows in this schema are never removed.
type BaseModel struct {
	ID        string    `gorm:"primarykey;type:uuid" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
