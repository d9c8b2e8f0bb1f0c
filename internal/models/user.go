package models

// User is the slim view of the account directory this core needs: enough to
// enforce the role-required override and the disable-password check. Account
// CRUD lives in the surrounding application.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	Phone        string
}

// RolesRequiringTwoFactor lists roles for which two-factor authentication is
// mandatory; self-disable is rejected for these.
var RolesRequiringTwoFactor = map[string]bool{
	"admin":   true,
	"manager": true,
}

// TwoFactorRequired reports whether the user's role mandates 2FA.
func (u *User) TwoFactorRequired() bool {
	return RolesRequiringTwoFactor[u.Role]
}
