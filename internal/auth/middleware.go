package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/repository"
	apperrors "github.com/spec-kit/chatdesk/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal is the authenticated staff member of a request.
type Principal struct {
	Staff   *domain.StaffMember
	TokenID string
}

// AuthMiddleware validates bearer tokens and loads the current staff record.
type AuthMiddleware struct {
	tokens *TokenManager
	staff  repository.StaffRepository
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, staff repository.StaffRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, staff: staff}
}

// Handle enforces authentication for protected routes. Role changes apply
// immediately: a token whose role no longer matches the stored one is refused.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	token, err := bearerToken(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return err
	}

	claims, err := m.tokens.Parse(token)
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	staff, err := m.staff.GetByID(c.UserContext(), claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewUnauthorized("staff not found")
		}
		return apperrors.MapError(err)
	}
	if !staff.Active {
		return apperrors.NewUnauthorized("staff inactive")
	}
	if staff.Role != claims.Role {
		return apperrors.NewUnauthorized("token outdated, sign in again")
	}

	c.Locals(principalKey, &Principal{Staff: staff, TokenID: claims.ID})
	return c.Next()
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", apperrors.NewUnauthorized("missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", apperrors.NewUnauthorized("invalid authorization header")
	}
	return strings.TrimSpace(token), nil
}

// PrincipalFromContext retrieves the authenticated principal.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	principal, ok := c.Locals(principalKey).(*Principal)
	return principal, ok && principal != nil
}

// StaffFromContext returns the authenticated staff member.
func StaffFromContext(c *fiber.Ctx) (*domain.StaffMember, error) {
	principal, ok := PrincipalFromContext(c)
	if !ok || principal.Staff == nil {
		return nil, apperrors.NewUnauthorized("staff authentication required")
	}
	return principal.Staff, nil
}
