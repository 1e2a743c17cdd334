package models

import (
	"fmt"
	"strings"
	"time"
)

// ProfileType classifies a profile.
type ProfileType string

// Profile types.
const (
	ProfileClient   ProfileType = "client"
	ProfileVendor   ProfileType = "vendor"
	ProfileReseller ProfileType = "reseller"
	ProfileCourier  ProfileType = "courier"
	ProfileAdmin    ProfileType = "admin"
	ProfileSystem   ProfileType = "system"
	ProfileBot      ProfileType = "bot"
)

// Profile is a person or system identity. Uniqueness is enforced by sparse
// unique indexes on email, whatsapp_id and user_id where non-null.
type Profile struct {
	ID         string      `bson:"_id,omitempty" json:"id"`
	UserID     string      `bson:"user_id,omitempty" json:"user_id,omitempty"`
	ExternalID string      `bson:"external_id,omitempty" json:"external_id,omitempty"`
	WhatsappID string      `bson:"whatsapp_id,omitempty" json:"whatsapp_id,omitempty"`
	Email      string      `bson:"email,omitempty" json:"email,omitempty"`
	Phone      string      `bson:"phone,omitempty" json:"phone,omitempty"`
	FirstName  string      `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName   string      `bson:"last_name,omitempty" json:"last_name,omitempty"`
	FullName   string      `bson:"full_name,omitempty" json:"full_name,omitempty"`
	Type       ProfileType `bson:"type" json:"type"`
	Roles      []string    `bson:"roles" json:"roles"`
	Active     bool        `bson:"active" json:"active"`
	CreatedAt  time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time   `bson:"updated_at" json:"updated_at"`
}

// DeriveFullName recomputes FullName from FirstName/LastName. Called on
// every write that touches either field.
func (p *Profile) DeriveFullName() {
	p.FullName = strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
}

// Validate requires at least one external identifier.
func (p *Profile) Validate() error {
	if p.UserID == "" && p.ExternalID == "" && p.WhatsappID == "" && p.Email == "" {
		return fmt.Errorf("profile requires at least one of user_id, external_id, whatsapp_id, email")
	}
	return nil
}
