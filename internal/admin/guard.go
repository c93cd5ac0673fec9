package admin

import (
	"channel-access-bot/internal/apperr"
)

// Guard gates admin commands on the configured admin id.
type Guard struct {
	adminID int64
}

func NewGuard(adminID int64) Guard {
	return Guard{adminID: adminID}
}

func (g Guard) AdminID() int64 { return g.adminID }

func (g Guard) IsAdmin(userID int64) bool {
	return userID == g.adminID
}

// Authorize must be called first by every admin command.
func (g Guard) Authorize(userID int64) error {
	if g.IsAdmin(userID) {
		return nil
	}
	return apperr.NewPermissionDenied(apperr.ReasonNotAdmin, "command is restricted to the admin").
		WithDetail("user_id", userID)
}
