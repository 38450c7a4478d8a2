package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"pagecapture/config"
)

// ErrOTPUnavailable is returned when a one-time passcode is required but
// none could be obtained.
var ErrOTPUnavailable = errors.New("one-time passcode not available")

// OTPLength is the length of an accepted passcode.
const OTPLength = 6

const otpFileName = ".otp"

// OTPSource supplies a one-time passcode, blocking until one is available.
type OTPSource interface {
	OTP(ctx context.Context) (string, error)
}

// OTPFunc adapts a function to OTPSource.
type OTPFunc func(ctx context.Context) (string, error)

func (f OTPFunc) OTP(ctx context.Context) (string, error) { return f(ctx) }

// FileOTPSource reads the passcode an operator writes into <dir>/.otp.
// The file is created empty if missing and emptied once a code is read.
// Changes are picked up through fsnotify, with polling as a backstop.
type FileOTPSource struct {
	dir          string
	pollInterval time.Duration
	timeout      time.Duration
	logger       *zap.Logger
}

// NewFileOTPSource creates a source from the OTP configuration.
func NewFileOTPSource(cfg config.OTPConfig, logger *zap.Logger) *FileOTPSource {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &FileOTPSource{
		dir:          cfg.Dir,
		pollInterval: poll,
		timeout:      cfg.Timeout,
		logger:       logger.Named("otp"),
	}
}

// Path returns the file the operator writes the code to.
func (s *FileOTPSource) Path() string {
	return filepath.Join(s.dir, otpFileName)
}

// OTP waits for a valid code to appear in the file.
func (s *FileOTPSource) OTP(ctx context.Context) (string, error) {
	path := s.Path()
	if err := ensureFile(path); err != nil {
		return "", fmt.Errorf("%w: %v", ErrOTPUnavailable, err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.logger.Info("Waiting for one-time passcode; write the code from your authenticator app to the file",
		zap.String("path", path), zap.Duration("timeout", s.timeout))

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Debug("File watcher unavailable, polling only", zap.Error(err))
	} else {
		defer watcher.Close()
		// Editors often replace the file, so watch the directory.
		if err := watcher.Add(s.dir); err != nil {
			s.logger.Debug("Cannot watch OTP directory, polling only", zap.Error(err))
		} else {
			events, watchErrs = watcher.Events, watcher.Errors
		}
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if code, ok := s.check(path); ok {
			s.logger.Info("One-time passcode received")
			return code, nil
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrOTPUnavailable, ctx.Err())
		case <-ticker.C:
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			s.logger.Debug("File watcher error", zap.Error(err))
		}
	}
}

// check reads the file and consumes a valid code.
func (s *FileOTPSource) check(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Debug("Cannot read OTP file", zap.String("path", path), zap.Error(err))
		return "", false
	}
	code := strings.TrimSpace(string(data))
	if utf8.RuneCountInString(code) != OTPLength {
		return "", false
	}
	if err := os.Truncate(path, 0); err != nil {
		s.logger.Warn("Cannot clear OTP file", zap.String("path", path), zap.Error(err))
	}
	return code, true
}

func ensureFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	return f.Close()
}
