package models

// Account roles carried in access tokens.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// Identity is the verified caller behind a socket connection.
type Identity struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// ValidRole reports whether role is one the platform issues tokens for.
func ValidRole(role string) bool {
	switch role {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}
