package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/isdelr/ender-auth/internal/models"
	"github.com/rs/zerolog/log"
)

// RegisterInput is the body of a registration request.
type RegisterInput struct {
	Name                 string `json:"name" validate:"required,max=255"`
	Email                string `json:"email" validate:"required,email,max=255"`
	Password             string `json:"password" validate:"required,min=8,eqfield=PasswordConfirmation"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// LoginInput is the body of a login request.
type LoginInput struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	DeviceName string `json:"device_name" validate:"max=255"`
}

// AuthResult pairs a user with a freshly issued token.
type AuthResult struct {
	User  models.User
	Token models.NewAccessToken
}

// AuthServiceProvider defines the register/login/me/logout flow.
type AuthServiceProvider interface {
	Register(ctx context.Context, in RegisterInput) (AuthResult, error)
	Login(ctx context.Context, in LoginInput) (AuthResult, error)
	Authenticate(ctx context.Context, plainToken string) (models.User, models.AccessToken, error)
	Logout(ctx context.Context, token models.AccessToken) error
}

// AuthOptions tune the auth flow.
type AuthOptions struct {
	// SingleSession revokes all earlier tokens of a user on login.
	SingleSession bool
}

// AuthService orchestrates validation, credential checks and token issuance.
type AuthService struct {
	users    UserServiceProvider
	tokens   TokenServiceProvider
	events   EventServiceProvider
	opts     AuthOptions
	validate *validator.Validate
	trans    ut.Translator
}

// NewAuthService creates a new AuthService.
func NewAuthService(users UserServiceProvider, tokens TokenServiceProvider, events EventServiceProvider, opts AuthOptions) *AuthService {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	english := en.New()
	trans, _ := ut.New(english, english).GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(v, trans); err != nil {
		log.Warn().Err(err).Msg("Failed to register validation translations")
	}

	return &AuthService{
		users:    users,
		tokens:   tokens,
		events:   events,
		opts:     opts,
		validate: v,
		trans:    trans,
	}
}

// Register validates the input, creates the user and issues a "mobile" token.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)

	if err := s.validateInput(in); err != nil {
		return AuthResult{}, err
	}

	user, err := s.users.CreateUser(ctx, in.Name, in.Email, in.Password)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			verr := NewValidationError()
			verr.Add("email", "The email has already been taken.")
			return AuthResult{}, verr
		}
		return AuthResult{}, fmt.Errorf("create user: %w", err)
	}

	token, err := s.tokens.IssueToken(ctx, user.ID, models.DefaultDeviceName)
	if err != nil {
		// Without a token the registration failed; free the email for a retry.
		if delErr := s.users.DeleteUser(context.WithoutCancel(ctx), user.ID); delErr != nil {
			log.Error().Err(delErr).Str("user_id", user.ID).Msg("Failed to roll back user after token error")
		}
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}

	s.record(ctx, EventRegister, "info", fmt.Sprintf("User %s registered.", user.Email), &user.ID)
	return AuthResult{User: user, Token: token}, nil
}

// Login checks credentials and issues a token labelled with the device name.
// Earlier tokens stay valid unless SingleSession is set.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (AuthResult, error) {
	in.Email = normalizeEmail(in.Email)
	in.DeviceName = strings.TrimSpace(in.DeviceName)

	if err := s.validateInput(in); err != nil {
		return AuthResult{}, err
	}

	user, err := s.users.AuthenticateUser(ctx, in.Email, in.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.record(ctx, EventLoginFailed, "warn", "Failed login attempt.", nil)
		}
		return AuthResult{}, err
	}

	if s.opts.SingleSession {
		n, err := s.tokens.RevokeUserTokens(ctx, user.ID)
		if err != nil {
			return AuthResult{}, fmt.Errorf("revoke previous tokens: %w", err)
		}
		log.Debug().Str("user_id", user.ID).Int64("revoked", n).Msg("Revoked previous sessions")
	}

	deviceName := in.DeviceName
	if deviceName == "" {
		deviceName = models.DefaultDeviceName
	}
	token, err := s.tokens.IssueToken(ctx, user.ID, deviceName)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}

	s.record(ctx, EventLogin, "info", fmt.Sprintf("User logged in from %s.", deviceName), &user.ID)
	return AuthResult{User: user, Token: token}, nil
}

// Authenticate resolves a bearer token to its user.
func (s *AuthService) Authenticate(ctx context.Context, plainToken string) (models.User, models.AccessToken, error) {
	token, err := s.tokens.ValidateToken(ctx, plainToken)
	if err != nil {
		return models.User{}, models.AccessToken{}, err
	}

	user, err := s.users.GetUserByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return models.User{}, models.AccessToken{}, ErrUnauthenticated
		}
		return models.User{}, models.AccessToken{}, err
	}
	return user, token, nil
}

// Logout revokes only the given token.
func (s *AuthService) Logout(ctx context.Context, token models.AccessToken) error {
	if err := s.tokens.RevokeToken(ctx, token.ID); err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return ErrUnauthenticated
		}
		return fmt.Errorf("revoke token: %w", err)
	}
	s.record(ctx, EventLogout, "info", fmt.Sprintf("Token %s revoked.", token.Name), &token.UserID)
	return nil
}

func (s *AuthService) validateInput(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate input: %w", err)
	}

	verr := NewValidationError()
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "eqfield":
			verr.Add(fe.Field(), fmt.Sprintf("The %s confirmation does not match.", fe.Field()))
		default:
			verr.Add(fe.Field(), fe.Translate(s.trans))
		}
	}
	return verr
}

func (s *AuthService) record(ctx context.Context, eventType, level, message string, userID *string) {
	if s.events == nil {
		return
	}
	if err := s.events.CreateEvent(ctx, eventType, level, message, userID); err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("Failed to record auth event")
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
