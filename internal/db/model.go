package db

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	StatusQueued  PaymentStatus = "QUEUED"
	StatusSuccess PaymentStatus = "SUCCESS"
	StatusFailed  PaymentStatus = "FAILED"
)

func (s PaymentStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

type PaymentEntity struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	PhoneNumber       string
	Amount            int64
	ExternalReference string
	CheckoutRequestID *string
	Status            PaymentStatus
	GatewayResponse   []byte
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ConfirmedAt       *time.Time
}

type UserProfileEntity struct {
	ID               uuid.UUID
	Username         string
	PhoneNumber      *string
	ReferredBy       *uuid.UUID
	IsActivated      bool
	ActivationDate   *time.Time
	WalletBalance    int64
	ReferralBalance  int64
	ReferralEarnings int64
	TotalEarnings    int64
	Level1Count      int
	Level2Count      int
	Level3Count      int
	CreatedAt        time.Time
}

type CallbackAuditEntity struct {
	ID                uuid.UUID
	ExternalReference *string
	Status            *string
	CallbackData      []byte
	CreatedAt         time.Time
}

type LedgerEntryEntity struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Type            string
	Amount          int64
	BalanceAfter    int64
	Source          string
	SourceReference *string
	Description     string
	CreatedAt       time.Time
}

type ActivationJobEntity struct {
	ID               uuid.UUID
	PaymentReference string
	UserID           uuid.UUID
	ScheduledAt      *time.Time
	PublishAttempts  int
	Attempts         int
	CompletedAt      *time.Time
	Error            *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
