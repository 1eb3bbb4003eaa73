package db

import "time"

type QuotaAccountModel struct {
	Identifier          string    `gorm:"primaryKey"`
	PerformedQueryCount int64     `gorm:"not null;default:0"`
	TotalQuota          int64     `gorm:"not null;default:0"`
	UpdatedAt           time.Time `gorm:"not null"`
}

func (QuotaAccountModel) TableName() string { return "quota_accounts" }

type DomainStateModel struct {
	Domain              string    `gorm:"primaryKey"`
	Disabled            bool      `gorm:"not null;default:false"`
	PerformedQueryCount int64     `gorm:"not null;default:0"`
	TotalQuota          int64     `gorm:"not null;default:0"`
	UpdatedAt           time.Time `gorm:"not null"`
}

func (DomainStateModel) TableName() string { return "domain_states" }

type QuotaIncrementModel struct {
	IdempotencyKey string    `gorm:"primaryKey"`
	Identifier     string    `gorm:"index;not null"`
	Amount         int64     `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (QuotaIncrementModel) TableName() string { return "quota_increments" }
