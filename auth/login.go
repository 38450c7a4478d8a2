package auth

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pagecapture/config"
)

// Page is the subset of a browser tab the login flow drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	SendKeys(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	WaitVisible(ctx context.Context, selector string) error
	WaitNetworkIdle(ctx context.Context, quiet time.Duration) error
}

// FormAuthenticator signs in through a username/password form, with an
// optional one-time passcode step.
type FormAuthenticator struct {
	login    config.LoginConfig
	otp      config.OTPConfig
	loginURL string
	quiet    time.Duration
	source   OTPSource
	logger   *zap.Logger
}

// NewFormAuthenticator creates an authenticator. source may be nil when no
// passcode is required.
func NewFormAuthenticator(cfg config.Config, source OTPSource, logger *zap.Logger) *FormAuthenticator {
	return &FormAuthenticator{
		login:    cfg.Login,
		otp:      cfg.OTP,
		loginURL: cfg.LoginURL(),
		quiet:    cfg.Wait.NetworkQuiet,
		source:   source,
		logger:   logger.Named("auth"),
	}
}

// Login runs the form flow on page. The session cookies end up in the
// browser context page belongs to. Any error is fatal for the run.
func (a *FormAuthenticator) Login(ctx context.Context, page Page) error {
	a.logger.Info("Starting login", zap.String("url", a.loginURL))

	if err := a.step(ctx, "open login page", func(ctx context.Context) error {
		return page.Navigate(ctx, a.loginURL)
	}); err != nil {
		return err
	}
	a.settle(ctx, page)

	if err := a.step(ctx, "wait for login form", func(ctx context.Context) error {
		return page.WaitVisible(ctx, a.login.UsernameSelector)
	}); err != nil {
		return err
	}
	if err := a.step(ctx, "fill username", func(ctx context.Context) error {
		return page.SendKeys(ctx, a.login.UsernameSelector, a.login.Username)
	}); err != nil {
		return err
	}
	if err := a.step(ctx, "fill password", func(ctx context.Context) error {
		return page.SendKeys(ctx, a.login.PasswordSelector, a.login.Password)
	}); err != nil {
		return err
	}
	if err := a.step(ctx, "submit login form", func(ctx context.Context) error {
		return page.Click(ctx, a.login.SubmitSelector)
	}); err != nil {
		return err
	}

	if a.otp.Required {
		if err := a.submitOTP(ctx, page); err != nil {
			return err
		}
	}

	a.settle(ctx, page)
	a.logger.Info("Login completed")
	return nil
}

func (a *FormAuthenticator) submitOTP(ctx context.Context, page Page) error {
	fieldCtx, cancel := context.WithTimeout(ctx, a.otp.FieldTimeout)
	err := page.WaitVisible(fieldCtx, a.otp.FieldSelector)
	cancel()
	if err != nil {
		return fmt.Errorf("login: passcode field did not appear: %w", err)
	}

	a.logger.Info("One-time passcode required")
	if a.source == nil {
		return fmt.Errorf("login: %w: no passcode source configured", ErrOTPUnavailable)
	}
	code, err := a.source.OTP(ctx)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if code == "" {
		return fmt.Errorf("login: %w", ErrOTPUnavailable)
	}

	if err := a.step(ctx, "fill passcode", func(ctx context.Context) error {
		return page.SendKeys(ctx, a.otp.FieldSelector, code)
	}); err != nil {
		return err
	}
	return a.step(ctx, "submit passcode", func(ctx context.Context) error {
		return page.Click(ctx, a.otp.SubmitSelector)
	})
}

// step runs one form interaction under the login timeout.
func (a *FormAuthenticator) step(ctx context.Context, name string, fn func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, a.login.Timeout)
	defer cancel()
	if err := fn(stepCtx); err != nil {
		return fmt.Errorf("login: %s: %w", name, err)
	}
	a.logger.Debug("Login step done", zap.String("step", name))
	return nil
}

// settle waits for network idle; a timeout is not an error.
func (a *FormAuthenticator) settle(ctx context.Context, page Page) {
	idleCtx, cancel := context.WithTimeout(ctx, a.login.Timeout)
	defer cancel()
	if err := page.WaitNetworkIdle(idleCtx, a.quiet); err != nil {
		a.logger.Debug("Network still busy after login step", zap.Error(err))
	}
}
