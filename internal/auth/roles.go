package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/chatdesk/internal/domain"
	apperrors "github.com/spec-kit/chatdesk/pkg/util/errorutil"
)

// RequireStaffRole admits staff holding one of the allowed roles.
func RequireStaffRole(allowed ...domain.StaffRole) fiber.Handler {
	allowedSet := make(map[domain.StaffRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		staff, err := StaffFromContext(c)
		if err != nil {
			return err
		}
		if _, ok := allowedSet[staff.Role]; !ok {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}

// RequireHumanStaff rejects the bot account, which never signs in but owns
// sessions and therefore exists in the staff table.
func RequireHumanStaff() fiber.Handler {
	return RequireStaffRole(domain.StaffRoleAgent, domain.StaffRoleTeamLead, domain.StaffRoleAdmin)
}
