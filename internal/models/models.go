package models

import "time"

type Identity struct {
	ID           string `gorm:"primaryKey;size:36"`
	DisplayName  string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}
