package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/artha-au/geoacl/pkg/acl"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

type AuthService struct {
	store      *Store
	aclStore   acl.Store
	jwtSecret  []byte
	tokenTTL   time.Duration
	refreshTTL time.Duration
}

type AuthConfig struct {
	JWTSecret       string
	TokenTTL        time.Duration
	RefreshTokenTTL time.Duration
}

func NewAuthService(db *sql.DB, config *AuthConfig) *AuthService {
	return &AuthService{
		store:      NewStore(db),
		aclStore:   acl.WithRetry(acl.NewPostgresStore(db)),
		jwtSecret:  []byte(config.JWTSecret),
		tokenTTL:   config.TokenTTL,
		refreshTTL: config.RefreshTokenTTL,
	}
}

// Password hashing using Argon2
type passwordParams struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

var defaultPasswordParams = &passwordParams{
	memory:      64 * 1024,
	iterations:  3,
	parallelism: 2,
	saltLength:  16,
	keyLength:   32,
}

func (a *AuthService) HashPassword(password string) (string, string, error) {
	salt := make([]byte, defaultPasswordParams.saltLength)
	_, err := rand.Read(salt)
	if err != nil {
		return "", "", err
	}

	hash := argon2.IDKey([]byte(password), salt, defaultPasswordParams.iterations,
		defaultPasswordParams.memory, defaultPasswordParams.parallelism, defaultPasswordParams.keyLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	return b64Hash, b64Salt, nil
}

func (a *AuthService) VerifyPassword(password, hash, salt string) (bool, error) {
	saltBytes, err := base64.RawStdEncoding.DecodeString(salt)
	if err != nil {
		return false, err
	}

	hashBytes, err := base64.RawStdEncoding.DecodeString(hash)
	if err != nil {
		return false, err
	}

	computedHash := argon2.IDKey([]byte(password), saltBytes, defaultPasswordParams.iterations,
		defaultPasswordParams.memory, defaultPasswordParams.parallelism, defaultPasswordParams.keyLength)

	return subtle.ConstantTimeCompare(hashBytes, computedHash) == 1, nil
}

// JWT token operations. GenerateToken carries the caller's acl group
// membership into the token so the gateway can build a PrincipalSet
// without a store round-trip on every request.
func (a *AuthService) GenerateToken(ctx context.Context, user *acl.User) (string, string, error) {
	groupIDs, err := a.aclStore.ListUserGroups(ctx, user.ID)
	if err != nil {
		return "", "", fmt.Errorf("failed to get user groups: %w", err)
	}
	isAdmin := false
	for _, g := range groupIDs {
		if g == acl.GroupAdministrators {
			isAdmin = true
			break
		}
	}

	now := time.Now()
	claims := TokenClaims{
		UserID:  user.ID,
		Email:   user.Email,
		Name:    user.UserName,
		Groups:  groupIDs,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
			Issuer:    "geoacl",
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(a.jwtSecret)
	if err != nil {
		return "", "", err
	}

	refreshToken, err := a.generateRefreshToken()
	if err != nil {
		return "", "", err
	}

	session := &UserSession{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		Token:        tokenString,
		RefreshToken: &refreshToken,
		ExpiresAt:    now.Add(a.refreshTTL),
		CreatedAt:    now,
		LastUsedAt:   now,
	}

	if err := a.store.CreateUserSession(session); err != nil {
		return "", "", fmt.Errorf("failed to create session: %w", err)
	}

	return tokenString, refreshToken, nil
}

func (a *AuthService) ValidateToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
			return nil, fmt.Errorf("token expired")
		}

		if err := a.store.UpdateUserSessionLastUsed(tokenString, time.Now()); err != nil {
			// last-used bookkeeping is best-effort, never blocks validation
		}

		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

func (a *AuthService) RefreshToken(ctx context.Context, refreshToken string) (string, string, error) {
	session, err := a.store.GetUserSessionByToken(refreshToken)
	if err != nil {
		return "", "", fmt.Errorf("invalid refresh token: %w", err)
	}

	if session.ExpiresAt.Before(time.Now()) {
		return "", "", fmt.Errorf("refresh token expired")
	}

	user, err := a.aclStore.GetUser(ctx, session.UserID)
	if err != nil {
		return "", "", fmt.Errorf("user not found: %w", err)
	}

	if !user.Active {
		return "", "", fmt.Errorf("user account is disabled")
	}

	if err := a.store.RevokeUserSession(refreshToken); err != nil {
		return "", "", fmt.Errorf("failed to revoke old session: %w", err)
	}

	return a.GenerateToken(ctx, user)
}

func (a *AuthService) RevokeToken(token string) error {
	return a.store.RevokeUserSession(token)
}

func (a *AuthService) RevokeAllUserTokens(userID string) error {
	return a.store.RevokeAllUserSessions(userID)
}

// Authentication methods
func (a *AuthService) AuthenticateLocal(email, password string) (*acl.User, error) {
	user, hash, salt, err := a.store.GetUserByEmailWithPassword(email)
	if err != nil {
		return nil, fmt.Errorf("authentication failed")
	}

	if !user.Active {
		return nil, fmt.Errorf("account is disabled")
	}

	if hash == "" || salt == "" {
		return nil, fmt.Errorf("local authentication not configured for this account")
	}

	ok, err := a.VerifyPassword(password, hash, salt)
	if err != nil || !ok {
		return nil, fmt.Errorf("authentication failed")
	}

	return user, nil
}

// AuthenticateExternal looks up or creates a local user for an
// external identity, keyed by (providerName, externalUserID) in
// acl's external_identities table.
func (a *AuthService) AuthenticateExternal(ctx context.Context, providerName, externalUserID string, attributes map[string]interface{}) (*acl.User, error) {
	ident, err := a.aclStore.GetExternalIdentity(ctx, providerName, externalUserID)
	if err == nil {
		user, err := a.aclStore.GetUser(ctx, ident.LocalUserID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up linked user: %w", err)
		}
		if !user.Active {
			return nil, fmt.Errorf("account is disabled")
		}
		return user, nil
	}
	if !acl.IsKind(err, acl.KindNotFound) {
		return nil, fmt.Errorf("failed to look up external identity: %w", err)
	}

	return a.createUserFromExternalProvider(ctx, providerName, externalUserID, attributes)
}

func (a *AuthService) createUserFromExternalProvider(ctx context.Context, providerName, externalUserID string, attributes map[string]interface{}) (*acl.User, error) {
	email, _ := attributes["email"].(string)
	username, _ := attributes["username"].(string)

	if email == "" {
		return nil, fmt.Errorf("email is required for user creation")
	}
	if username == "" {
		username = email
	}

	now := time.Now()
	user := &acl.User{
		ID:        uuid.NewString(),
		UserName:  username,
		Email:     email,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := a.aclStore.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if err := a.aclStore.AddMember(ctx, acl.GroupAnonymous, user.ID); err != nil {
		return nil, fmt.Errorf("failed to add default group membership: %w", err)
	}

	ident := &acl.ExternalIdentity{
		ID:           uuid.NewString(),
		ProviderName: providerName,
		ExternalID:   externalUserID,
		LocalUserID:  user.ID,
	}
	if err := a.aclStore.LinkExternalIdentity(ctx, ident); err != nil {
		a.aclStore.DeleteUser(ctx, user.ID)
		return nil, fmt.Errorf("failed to link external identity: %w", err)
	}

	return user, nil
}

// Utility functions
func (a *AuthService) generateRefreshToken() (string, error) {
	bytes := make([]byte, 32)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// Provider management
func (a *AuthService) CreateAuthProvider(provider *AuthProvider) error {
	now := time.Now()
	provider.CreatedAt = now
	provider.UpdatedAt = now
	return a.store.CreateAuthProvider(provider)
}

func (a *AuthService) GetAuthProvider(id string) (*AuthProvider, error) {
	return a.store.GetAuthProvider(id)
}

func (a *AuthService) ListAuthProviders() ([]*AuthProvider, error) {
	return a.store.ListAuthProviders()
}

func (a *AuthService) UpdateAuthProvider(provider *AuthProvider) error {
	provider.UpdatedAt = time.Now()
	return a.store.UpdateAuthProvider(provider)
}

func (a *AuthService) DeleteAuthProvider(id string) error {
	return a.store.DeleteAuthProvider(id)
}

// Session management
func (a *AuthService) CleanupExpiredSessions() error {
	return a.store.CleanupExpiredSessions()
}
