package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	Phone            string `gorm:"primaryKey"`
	Name             string `gorm:"not null"`
	Role             string `gorm:"not null;index"`
	District         string `gorm:"not null;index"`
	Taluk            string `gorm:"not null"`
	Village          string
	BloodGroup       string `gorm:"index"`
	CooldownOverride bool   `gorm:"not null;default:false"`
	LastDonationAt   *time.Time
	Points           int            `gorm:"not null;default:0"`
	Approved         bool           `gorm:"not null;default:false"`
	Notifications    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time      `gorm:"not null"`
	UpdatedAt        time.Time
}

type RequestModel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement:false"`
	Requester      string `gorm:"not null;index"`
	BloodType      string `gorm:"not null;index"`
	Units          int    `gorm:"not null"`
	Urgency        string `gorm:"not null"`
	Status         string `gorm:"not null;index"`
	District       string `gorm:"not null;index"`
	Taluk          string `gorm:"not null"`
	Village        string
	MatchedDonors  datatypes.JSON `gorm:"type:jsonb"`
	PledgedDonors  datatypes.JSON `gorm:"type:jsonb"`
	InventoryIDs   datatypes.JSON `gorm:"type:jsonb"`
	TestResults    datatypes.JSON `gorm:"type:jsonb"`
	FulfilledUnits int            `gorm:"not null;default:0"`
	FulfilledBy    string
	FulfilledAt    *time.Time
	CreatedAt      time.Time `gorm:"not null;index"`
	ExpiresAt      time.Time `gorm:"not null"`
}

// InventoryUnitModel keeps list order in Position; allocation walks units by it.
type InventoryUnitModel struct {
	ID         string    `gorm:"primaryKey"`
	Position   int64     `gorm:"not null;index"`
	BloodType  string    `gorm:"not null;index"`
	Units      int       `gorm:"not null"`
	Expiry     time.Time `gorm:"not null"`
	DonorPhone string
	RequestID  *int64 `gorm:"index"`
	TestReport string
	Custodian  string    `gorm:"not null"`
	AddedAt    time.Time `gorm:"not null"`
}

// SystemStateModel is a single-row table holding the request counter and the red alert flag.
type SystemStateModel struct {
	ID             int   `gorm:"primaryKey;autoIncrement:false"`
	RequestCounter int64 `gorm:"not null;default:0"`
	RedAlert       bool  `gorm:"not null;default:false"`
	UpdatedAt      time.Time
}
