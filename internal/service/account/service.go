// Package account owns users: registration, login, password reset and
// role changes. Every change is announced on the bus.
package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/internal/repository"
	"github.com/jwalitptl/medbooking/pkg/auth"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/event"
	"github.com/jwalitptl/medbooking/pkg/logger"
	"github.com/jwalitptl/medbooking/pkg/security"
)

const (
	entityType = "user"

	defaultResetTTL = time.Hour
	resetTokenBytes = 32
)

const (
	actionRegister   = "users.user.register"
	actionLogin      = "users.user.login"
	actionForgot     = "users.user.forgotPassword"
	actionReset      = "users.user.resetPassword"
	actionChangeRole = "users.user.changeRole"
	actionDelete     = "users.user.delete"
)

type Service struct {
	users    repository.UserRepository
	hasher   security.PasswordHasher
	tokens   TokenStore
	jwt      *auth.TokenManager
	bus      event.Bus
	policy   *policy.Policy
	log      *logger.Logger
	resetTTL time.Duration
	now      func() time.Time
}

func NewService(
	users repository.UserRepository,
	hasher security.PasswordHasher,
	tokens TokenStore,
	jwt *auth.TokenManager,
	bus event.Bus,
	pol *policy.Policy,
	resetTTL time.Duration,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	if resetTTL <= 0 {
		resetTTL = defaultResetTTL
	}
	return &Service{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		jwt:      jwt,
		bus:      bus,
		policy:   pol,
		log:      log.With("service", "account"),
		resetTTL: resetTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a patient or doctor account.
func (s *Service) Register(ctx context.Context, req model.RegisterRequest) (*model.User, error) {
	u, err := s.register(ctx, req)
	if err != nil {
		s.fail(ctx, event.Actor{Role: "anonymous"}, actionRegister, nil, err, map[string]interface{}{"email": req.Email})
		return nil, err
	}

	actor := policy.Principal{ID: u.ID, Role: policy.Role(u.Role)}.Actor()
	md := map[string]interface{}{"role": u.Role, "email": u.Email}
	event.Emit(ctx, s.bus, s.log,
		event.New(event.UserCreated, actor, entityType, u.ID, event.StatusOK, md),
		event.Record(actor, actionRegister, entityType, u.ID, event.StatusOK, md),
	)
	return u, nil
}

func (s *Service) register(ctx context.Context, req model.RegisterRequest) (*model.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperrors.Invalid("a valid email is required").WithData("field", "email")
	}
	role := policy.Role(req.Role)
	if role != policy.RolePatient && role != policy.RoleDoctor {
		return nil, apperrors.Invalid("role must be patient or doctor").WithData("field", "role")
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, passwordError(err)
	}

	u := &model.User{
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		Role:         string(role),
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login verifies credentials and issues an access token. Unknown emails and
// wrong passwords fail the same way.
func (s *Service) Login(ctx context.Context, req model.LoginRequest) (*model.TokenResponse, error) {
	invalid := apperrors.Unauthenticated(apperrors.CodeInvalidCredentials, "invalid email or password")

	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if !apperrors.Is(err, apperrors.KindNotFound) {
			return nil, err
		}
		s.fail(ctx, event.Actor{Role: "anonymous"}, actionLogin, nil, invalid, map[string]interface{}{"email": req.Email})
		return nil, invalid
	}
	actor := policy.Principal{ID: u.ID, Role: policy.Role(u.Role)}.Actor()
	if err := s.hasher.Compare(u.PasswordHash, req.Password); err != nil {
		s.fail(ctx, actor, actionLogin, u.ID, invalid, nil)
		return nil, invalid
	}

	token, exp, err := s.jwt.Generate(u.ID, u.Role, u.Email)
	if err != nil {
		return nil, apperrors.Infrastructure(err, "failed to issue token")
	}
	event.Emit(ctx, s.bus, s.log, event.Record(actor, actionLogin, entityType, u.ID, event.StatusOK, nil))
	return &model.TokenResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: exp, User: u}, nil
}

// ForgotPassword issues a one time reset token and announces it. Unknown
// emails succeed silently.
func (s *Service) ForgotPassword(ctx context.Context, req model.ForgotPasswordRequest) error {
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			event.Emit(ctx, s.bus, s.log, event.Record(event.Actor{Role: "anonymous"}, actionForgot, entityType, nil, event.StatusWarning,
				map[string]interface{}{"reason": "unknown_email"}))
			return nil
		}
		return err
	}

	raw := make([]byte, resetTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return apperrors.Infrastructure(err, "failed to generate reset token")
	}
	token := hex.EncodeToString(raw)
	if err := s.tokens.Save(ctx, hashToken(token), u.ID, s.resetTTL); err != nil {
		s.fail(ctx, event.SystemActor, actionForgot, u.ID, err, nil)
		return apperrors.Infrastructure(err, "failed to store reset token")
	}

	expires := s.now().Add(s.resetTTL)
	event.Emit(ctx, s.bus, s.log,
		event.New(event.UserPasswordResetRequested, event.SystemActor, entityType, u.ID, event.StatusOK, map[string]interface{}{
			"email":      u.Email,
			"token":      token,
			"expires_at": event.FormatTime(expires),
		}),
		event.Record(event.SystemActor, actionForgot, entityType, u.ID, event.StatusOK, map[string]interface{}{
			"expires_at": event.FormatTime(expires),
		}),
	)
	return nil
}

// ResetPassword consumes a reset token and sets the new password.
func (s *Service) ResetPassword(ctx context.Context, req model.ResetPasswordRequest) error {
	if len(req.Password) < security.MinPasswordLen {
		invalid := apperrors.Invalid("password must be at least 8 characters").WithData("field", "password")
		s.fail(ctx, event.Actor{Role: "anonymous"}, actionReset, nil, invalid, nil)
		return invalid
	}
	userID, err := s.tokens.Consume(ctx, hashToken(strings.TrimSpace(req.Token)))
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			invalid := apperrors.Unauthenticated(apperrors.CodeInvalidToken, "reset token is invalid or expired")
			s.fail(ctx, event.Actor{Role: "anonymous"}, actionReset, nil, invalid, nil)
			return invalid
		}
		return apperrors.Infrastructure(err, "failed to read reset token")
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return passwordError(err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		s.fail(ctx, event.SystemActor, actionReset, userID, err, nil)
		return err
	}
	event.Emit(ctx, s.bus, s.log,
		event.New(event.UserPasswordReset, event.SystemActor, entityType, userID, event.StatusOK, nil),
		event.Record(event.SystemActor, actionReset, entityType, userID, event.StatusOK, nil),
	)
	return nil
}

// Get returns a user to themselves or an admin.
func (s *Service) Get(ctx context.Context, p policy.Principal, id uuid.UUID) (*model.User, error) {
	if err := policy.Require(s.policy.CanActAs(p, id), "cannot read another user"); err != nil {
		return nil, err
	}
	return s.users.Get(ctx, id)
}

// ChangeRole is admin only. Setting the current role is a no-op.
func (s *Service) ChangeRole(ctx context.Context, p policy.Principal, id uuid.UUID, req model.ChangeRoleRequest) (*model.User, error) {
	u, from, err := s.changeRole(ctx, p, id, policy.Role(req.Role))
	if err != nil {
		s.fail(ctx, p.Actor(), actionChangeRole, id, err, map[string]interface{}{"to": req.Role})
		return nil, err
	}
	if from == u.Role {
		return u, nil
	}

	md := map[string]interface{}{"from": from, "to": u.Role}
	event.Emit(ctx, s.bus, s.log,
		event.New(event.UserRoleChanged, p.Actor(), entityType, u.ID, event.StatusOK, md),
		event.Record(p.Actor(), actionChangeRole, entityType, u.ID, event.StatusOK, md),
	)
	return u, nil
}

func (s *Service) changeRole(ctx context.Context, p policy.Principal, id uuid.UUID, to policy.Role) (*model.User, string, error) {
	if err := policy.RequireAdmin(p); err != nil {
		return nil, "", err
	}
	if !to.Valid() {
		return nil, "", apperrors.Invalid("role must be patient, doctor or admin").WithData("field", "role")
	}
	u, err := s.users.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	from := u.Role
	if from == string(to) {
		return u, from, nil
	}
	if err := s.users.UpdateRole(ctx, id, string(to)); err != nil {
		return nil, "", err
	}
	u.Role = string(to)
	return u, from, nil
}

// Delete removes a user. Admin only; sibling components react to the
// deleted event.
func (s *Service) Delete(ctx context.Context, p policy.Principal, id uuid.UUID) error {
	err := policy.RequireAdmin(p)
	var u *model.User
	if err == nil {
		u, err = s.users.Get(ctx, id)
	}
	if err == nil {
		err = s.users.Delete(ctx, id)
	}
	if err != nil {
		s.fail(ctx, p.Actor(), actionDelete, id, err, nil)
		return err
	}

	md := map[string]interface{}{"role": u.Role}
	event.Emit(ctx, s.bus, s.log,
		event.New(event.UserDeleted, p.Actor(), entityType, u.ID, event.StatusOK, md),
		event.Record(p.Actor(), actionDelete, entityType, u.ID, event.StatusOK, md),
	)
	return nil
}

func (s *Service) fail(ctx context.Context, actor event.Actor, action string, entityID interface{}, err error, extra map[string]interface{}) {
	event.Emit(ctx, s.bus, s.log, event.Failure(actor, action, entityType, entityID, err, extra))
}

func passwordError(err error) error {
	if errors.Is(err, security.ErrPasswordTooShort) {
		return apperrors.Invalid("password must be at least 8 characters").WithData("field", "password")
	}
	return apperrors.Infrastructure(err, "failed to hash password")
}
