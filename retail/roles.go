package retail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SystemActor is recorded for changes made outside a request, such as
// seeding the first admin.
const SystemActor = "system"

// RoleManager mutates user roles. Admins are immutable here: nobody can be
// promoted to admin and no admin can be demoted. Admin elevation happens
// through SeedAdmin, which the API does not expose.
type RoleManager struct {
	store Store
	now   func() time.Time
}

func NewRoleManager(store Store) *RoleManager {
	return &RoleManager{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Promote sets the role of userID to newRole (finance or staff).
func (m *RoleManager) Promote(ctx context.Context, caller Identity, userID UserID, newRole Role) (*UserProfile, error) {
	if err := requireRole(caller, msgAdminsOnly, RoleAdmin); err != nil {
		return nil, err
	}
	if !newRole.Valid() {
		return nil, invalid("role", "Invalid role")
	}
	if newRole == RoleAdmin {
		return nil, &ForbiddenError{Message: "Admin role cannot be granted"}
	}

	var updated UserProfile
	err := Atomically(ctx, m.store, func(s Store) error {
		user, err := s.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("get user %s: %w", userID, err)
		}
		if user == nil {
			return &NotFoundError{Kind: "User", ID: string(userID)}
		}
		if user.Role == RoleAdmin {
			return &ForbiddenError{Message: "Admin roles cannot be changed"}
		}
		previous := user.Role
		if err := s.UpdateUserRole(ctx, userID, newRole); err != nil {
			return err
		}
		user.Role = newRole
		updated = *user
		return s.AppendAudit(ctx, AuditEntry{
			ID: uuid.NewString(), At: m.now(),
			Actor: caller.Actor(), Action: AuditRoleChanged, UserID: userID,
			Detail: fmt.Sprintf("%s -> %s", previous, newRole),
		})
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListUsers returns every profile. Admin only.
func (m *RoleManager) ListUsers(ctx context.Context, caller Identity) ([]UserProfile, error) {
	if err := requireRole(caller, msgAdminsOnly, RoleAdmin); err != nil {
		return nil, err
	}
	return m.store.ListUsers(ctx)
}

// Register creates a staff account. passwordHash must already be hashed.
func (m *RoleManager) Register(ctx context.Context, email, passwordHash string) (*UserProfile, error) {
	email = normalizeEmail(email)
	if email == "" || passwordHash == "" {
		return nil, invalid("", "Missing required fields")
	}
	existing, err := m.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", email, err)
	}
	if existing != nil {
		return nil, invalid("email", "User already exists")
	}
	user := UserProfile{
		ID:           UserID(uuid.NewString()),
		Email:        email,
		Role:         RoleStaff,
		PasswordHash: passwordHash,
		CreatedAt:    m.now(),
	}
	if err := m.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SeedAdmin creates an admin account, or elevates an existing one. It is an
// operator path and performs no caller checks.
func (m *RoleManager) SeedAdmin(ctx context.Context, email, passwordHash string) (*UserProfile, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, invalid("email", "Email is required")
	}

	var seeded UserProfile
	err := Atomically(ctx, m.store, func(s Store) error {
		user, err := s.GetUserByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("get user %s: %w", email, err)
		}
		if user == nil {
			if passwordHash == "" {
				return invalid("password", "Password is required for a new admin")
			}
			seeded = UserProfile{
				ID: UserID(uuid.NewString()), Email: email, Role: RoleAdmin,
				PasswordHash: passwordHash, CreatedAt: m.now(),
			}
			if err := s.CreateUser(ctx, seeded); err != nil {
				return err
			}
		} else {
			if err := s.UpdateUserRole(ctx, user.ID, RoleAdmin); err != nil {
				return err
			}
			user.Role = RoleAdmin
			seeded = *user
		}
		return s.AppendAudit(ctx, AuditEntry{
			ID: uuid.NewString(), At: m.now(),
			Actor: SystemActor, Action: AuditRoleChanged, UserID: seeded.ID,
			Detail: "seeded admin",
		})
	})
	if err != nil {
		return nil, err
	}
	return &seeded, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
