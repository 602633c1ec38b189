package domain

import (
	"time"

	"github.com/google/uuid"
)

// Purpose is the authorization-grant subject a usage row references. It
// attaches a consumer tenant to an e-service.
type Purpose struct {
	ID         uuid.UUID `json:"id"`
	EserviceID uuid.UUID `json:"eservice_id"`
	ConsumerID uuid.UUID `json:"consumer_id"`
	Title      string    `json:"title"`
	Active     bool      `json:"active"`
	ValidFrom  time.Time `json:"valid_from"`
}

// ActiveOn reports whether the purpose was active and already valid on the
// given day.
func (p Purpose) ActiveOn(date time.Time) bool {
	return p.Active && !NormalizeDate(p.ValidFrom).After(NormalizeDate(date))
}

// Eservice is a service offering with a producing tenant.
type Eservice struct {
	ID         uuid.UUID `json:"id"`
	ProducerID uuid.UUID `json:"producer_id"`
	Name       string    `json:"name"`
}

// Tenant is a platform participant expected to submit tracings.
type Tenant struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Origin  string    `json:"origin"`
	Deleted bool      `json:"deleted"`
}
