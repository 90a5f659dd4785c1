// Package auth is the authentication collaborator: credentials, account
// lifecycle, 2FA, remember tokens, and the reserved URL sub-tree the
// pipeline delegates to. It owns every session mutation tied to identity.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/arborcloud/console/internal/cookie"
	"github.com/arborcloud/console/internal/mailer"
	"github.com/arborcloud/console/internal/session"
	"github.com/arborcloud/console/internal/store"
	"github.com/arborcloud/console/internal/validation"
)

const (
	rememberCookie   = "_console_remember"
	rememberLifetime = 14 * 24 * time.Hour
	resetLifetime    = 24 * time.Hour
	minPasswordLen   = 8
)

// ErrInvalidCredentials is returned when an email/password pair does not
// match an open account. Handlers turn it into a flash, never a 500.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrInvalidResetToken is returned for unknown, expired, or already-used
// password reset tokens.
var ErrInvalidResetToken = errors.New("auth: invalid reset token")

// sessionKeyOTPPending holds the account ID of a login that passed the
// password check but still owes a TOTP code.
const sessionKeyOTPPending = "otp_pending_account"

// sessionKeyOTPSetup holds the candidate secret shown on the setup page
// until a valid code confirms it.
const sessionKeyOTPSetup = "otp_setup_secret"

// AccountCreatedHook runs synchronously exactly once after an account is
// created, before the account can reach any other route.
type AccountCreatedHook func(ctx context.Context, accountID string) error

// Service implements the authentication operations.
type Service struct {
	accounts store.Accounts
	sessions *session.Manager
	jar      *cookie.Jar
	mail     mailer.Sender
	log      *slog.Logger
	baseURL  string
	issuer   string
	created  AccountCreatedHook
}

// NewService wires the authentication collaborator. baseURL is used in
// password-reset links, issuer in TOTP provisioning URIs.
func NewService(accounts store.Accounts, sessions *session.Manager, jar *cookie.Jar,
	mail mailer.Sender, log *slog.Logger, baseURL, issuer string, created AccountCreatedHook) *Service {
	return &Service{
		accounts: accounts,
		sessions: sessions,
		jar:      jar,
		mail:     mail,
		log:      log,
		baseURL:  baseURL,
		issuer:   issuer,
		created:  created,
	}
}

// CreateAccount validates and persists a new account, then fires the
// post-creation hook. The hook runs at most once per created account; a
// hook failure is reported but does not undo the account.
func (s *Service) CreateAccount(ctx context.Context, name, email, password, confirm string) (*store.Account, error) {
	var check validation.Check
	check.Require("name", name)
	if check.Require("email", email) {
		check.Email("email", email)
	}
	check.MinLen("password", password, minPasswordLen)
	check.Equal("password_confirm", password, confirm)
	if err := check.Err(); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	account := &store.Account{
		ID:           newID(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	if err := s.created(ctx, account.ID); err != nil {
		return nil, fmt.Errorf("auth: post-creation hook: %w", err)
	}

	s.log.InfoContext(ctx, "account created", slog.String("account_id", account.ID))
	return account, nil
}

// VerifyCredentials resolves an email/password pair to an open account.
// Every failure mode returns ErrInvalidCredentials so callers cannot leak
// which part was wrong.
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (*store.Account, error) {
	account, err := s.accounts.AccountByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if account.Closed {
		return nil, ErrInvalidCredentials
	}

	ok, err := VerifyPassword(account.PasswordHash, password)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	return account, nil
}

// EstablishSession binds an account to the session after successful
// authentication: the token is rotated against fixation, the session ID is
// added to the account's active set, and the cookie is rewritten.
func (s *Service) EstablishSession(ctx context.Context, w http.ResponseWriter, sess *session.Session, accountID string) error {
	if err := s.sessions.Rotate(ctx, sess); err != nil {
		return err
	}
	sess.AccountID = accountID
	sess.Delete(sessionKeyOTPPending)
	sess.MarkDirty()

	if err := s.accounts.AddSessionKey(ctx, accountID, sess.ID); err != nil {
		return err
	}
	return s.sessions.Write(w, sess)
}

// ClearSession logs the session out: the active-session key is removed and
// the server-side record destroyed.
func (s *Service) ClearSession(ctx context.Context, w http.ResponseWriter, sess *session.Session) error {
	if sess.Authenticated() {
		if err := s.accounts.RemoveSessionKey(ctx, sess.AccountID, sess.ID); err != nil {
			return err
		}
	}
	return s.sessions.Destroy(ctx, w, sess)
}

// ActiveSessionValid reports whether the session's ID is still in its
// account's active set.
func (s *Service) ActiveSessionValid(ctx context.Context, sess *session.Session) (bool, error) {
	return s.accounts.SessionKeyValid(ctx, sess.AccountID, sess.ID)
}

// IssueRemember sets a long-lived remember cookie. Only the token's hash is
// persisted; a stolen database copy cannot be replayed as a cookie.
func (s *Service) IssueRemember(ctx context.Context, w http.ResponseWriter, accountID string) error {
	token, err := newRememberToken()
	if err != nil {
		return err
	}
	if err := s.accounts.SetRememberToken(ctx, accountID, hashToken(token), time.Now().Add(rememberLifetime)); err != nil {
		return err
	}
	return s.jar.SetSigned(w, rememberCookie, token, int(rememberLifetime.Seconds()))
}

// LoadRemembered re-authenticates a cookie-less visitor from the remember
// token. Returns a fresh authenticated session, or nil when there is no
// valid token. Invalid tokens clear the cookie; only infrastructure
// failures propagate.
func (s *Service) LoadRemembered(ctx context.Context, w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	token, err := s.jar.GetSigned(r, rememberCookie)
	if err != nil || token == "" {
		return nil, nil
	}

	accountID, err := s.accounts.RememberedAccount(ctx, hashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		s.jar.Delete(w, rememberCookie)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sess, err := s.sessions.Create(ctx)
	if err != nil {
		return nil, err
	}
	sess.AccountID = accountID
	sess.MarkDirty()
	if err := s.accounts.AddSessionKey(ctx, accountID, sess.ID); err != nil {
		return nil, err
	}
	if err := s.sessions.Write(w, sess); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "session restored from remember token", slog.String("account_id", accountID))
	return sess, nil
}

// ClearRemember drops the remember cookie and its stored token.
func (s *Service) ClearRemember(ctx context.Context, w http.ResponseWriter, accountID string) error {
	s.jar.Delete(w, rememberCookie)
	return s.accounts.ClearRememberToken(ctx, accountID)
}

// RequestPasswordReset issues a single-use reset token and mails the link.
// Unknown addresses are silently ignored so the form cannot be used to
// probe for accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	account, err := s.accounts.AccountByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if account.Closed {
		return nil
	}

	token, err := newRememberToken()
	if err != nil {
		return err
	}
	if err := s.accounts.SetResetToken(ctx, account.ID, hashToken(token), time.Now().Add(resetLifetime)); err != nil {
		return err
	}

	return s.mail.Send(ctx, mailer.Email{
		To:      account.Email,
		Subject: "Reset your password",
		Text: "Someone requested a password reset for your account.\n\n" +
			"Reset it here: " + s.baseURL + "/reset-password?token=" + token + "\n\n" +
			"If this wasn't you, you can ignore this email.",
	})
}

// ResetPassword consumes a reset token and sets the new password. Every
// other session of the account is revoked.
func (s *Service) ResetPassword(ctx context.Context, token, password, confirm string) error {
	var check validation.Check
	check.MinLen("password", password, minPasswordLen)
	check.Equal("password_confirm", password, confirm)
	if err := check.Err(); err != nil {
		return err
	}

	accountID, err := s.accounts.ConsumeResetToken(ctx, hashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidResetToken
	}
	if err != nil {
		return err
	}

	account, err := s.accounts.AccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	account.PasswordHash = hash
	if err := s.accounts.UpdateAccount(ctx, account); err != nil {
		return err
	}
	if err := s.accounts.RemoveOtherSessionKeys(ctx, accountID, ""); err != nil {
		return err
	}

	s.log.InfoContext(ctx, "password reset", slog.String("account_id", accountID))
	return nil
}

// ChangePassword verifies the current password, stores the new one, and
// revokes every other active session of the account.
func (s *Service) ChangePassword(ctx context.Context, sess *session.Session, current, password, confirm string) error {
	account, err := s.accounts.AccountByID(ctx, sess.AccountID)
	if err != nil {
		return err
	}
	if ok, err := VerifyPassword(account.PasswordHash, current); err != nil || !ok {
		return ErrInvalidCredentials
	}

	var check validation.Check
	check.MinLen("new_password", password, minPasswordLen)
	check.Equal("new_password_confirm", password, confirm)
	if err := check.Err(); err != nil {
		return err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	account.PasswordHash = hash
	if err := s.accounts.UpdateAccount(ctx, account); err != nil {
		return err
	}
	return s.accounts.RemoveOtherSessionKeys(ctx, account.ID, sess.ID)
}

// ChangeLogin verifies the password and updates the account email.
func (s *Service) ChangeLogin(ctx context.Context, sess *session.Session, password, email string) error {
	account, err := s.accounts.AccountByID(ctx, sess.AccountID)
	if err != nil {
		return err
	}
	if ok, err := VerifyPassword(account.PasswordHash, password); err != nil || !ok {
		return ErrInvalidCredentials
	}

	var check validation.Check
	if check.Require("email", email) {
		check.Email("email", email)
	}
	if err := check.Err(); err != nil {
		return err
	}

	account.Email = email
	return s.accounts.UpdateAccount(ctx, account)
}

// CloseAccount verifies the password, marks the account closed, revokes all
// sessions and the remember token, and destroys the current session.
func (s *Service) CloseAccount(ctx context.Context, w http.ResponseWriter, sess *session.Session, password string) error {
	account, err := s.accounts.AccountByID(ctx, sess.AccountID)
	if err != nil {
		return err
	}
	if ok, err := VerifyPassword(account.PasswordHash, password); err != nil || !ok {
		return ErrInvalidCredentials
	}

	account.Closed = true
	if err := s.accounts.UpdateAccount(ctx, account); err != nil {
		return err
	}
	if err := s.accounts.RemoveOtherSessionKeys(ctx, account.ID, ""); err != nil {
		return err
	}
	if err := s.ClearRemember(ctx, w, account.ID); err != nil {
		return err
	}
	if err := s.sessions.DestroyAllForAccount(ctx, account.ID); err != nil {
		return err
	}
	if err := s.sessions.Destroy(ctx, w, sess); err != nil {
		return err
	}

	s.log.InfoContext(ctx, "account closed", slog.String("account_id", account.ID))
	return nil
}

// EnableOTP verifies the password and a first code against the pending
// secret, then turns 2FA on.
func (s *Service) EnableOTP(ctx context.Context, sess *session.Session, secret, code, password string) error {
	account, err := s.accounts.AccountByID(ctx, sess.AccountID)
	if err != nil {
		return err
	}
	if ok, err := VerifyPassword(account.PasswordHash, password); err != nil || !ok {
		return ErrInvalidCredentials
	}
	if !VerifyTOTP(secret, code, time.Now()) {
		return &validation.Failed{Errors: validation.Errors{"otp": {"code is invalid"}}}
	}

	account.OTPSecret = secret
	account.OTPEnabled = true
	return s.accounts.UpdateAccount(ctx, account)
}

// DisableOTP verifies the password and turns 2FA off.
func (s *Service) DisableOTP(ctx context.Context, sess *session.Session, password string) error {
	account, err := s.accounts.AccountByID(ctx, sess.AccountID)
	if err != nil {
		return err
	}
	if ok, err := VerifyPassword(account.PasswordHash, password); err != nil || !ok {
		return ErrInvalidCredentials
	}

	account.OTPSecret = ""
	account.OTPEnabled = false
	return s.accounts.UpdateAccount(ctx, account)
}

// VerifyAccountOTP checks a login code against the account's enabled secret.
func (s *Service) VerifyAccountOTP(ctx context.Context, accountID, code string) (bool, error) {
	account, err := s.accounts.AccountByID(ctx, accountID)
	if err != nil {
		return false, err
	}
	if !account.OTPEnabled {
		return false, nil
	}
	return VerifyTOTP(account.OTPSecret, code, time.Now()), nil
}

// Account loads the session's account.
func (s *Service) Account(ctx context.Context, sess *session.Session) (*store.Account, error) {
	return s.accounts.AccountByID(ctx, sess.AccountID)
}

// Sessions exposes the session manager to the HTTP layer.
func (s *Service) Sessions() *session.Manager { return s.sessions }

func newID() string { return uuid.NewString() }

func newRememberToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
