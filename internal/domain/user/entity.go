// internal/domain/user/entity.go
package user

// Tier is the entitlement level stored on the user row.
type Tier string

const (
	TierClient  Tier = "client"
	TierPremium Tier = "premium"
	TierAdmin   Tier = "admin"
)

func (t Tier) Valid() bool {
	switch t {
	case TierClient, TierPremium, TierAdmin:
		return true
	}
	return false
}
