package message

import (
	"github.com/google/uuid"
)

// ActivationJob is the Kafka value for one pending activation side-effect job.
type ActivationJob struct {
	ID               uuid.UUID `json:"id"`
	PaymentReference string    `json:"paymentReference"`
	UserID           uuid.UUID `json:"userId"`
	Attempts         int       `json:"attempts"`
}
