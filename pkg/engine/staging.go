package engine

import (
	"errors"
	"io/fs"

	"github.com/rs/zerolog"
)

// Staging wraps an engine Filesystem with the staging contract: writes fail
// loudly, reads distinguish empty output, unlinks never fail.
type Staging struct {
	fs      Filesystem
	logger  zerolog.Logger
	metrics MetricsRecorder
}

// NewStaging creates a staging view over fs.
func NewStaging(fs Filesystem, logger zerolog.Logger, metrics MetricsRecorder) *Staging {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Staging{
		fs:      fs,
		logger:  logger.With().Str("component", "staging").Logger(),
		metrics: metrics,
	}
}

// Write stages data at path.
func (s *Staging) Write(path string, data []byte) error {
	if err := s.fs.WriteFile(path, data); err != nil {
		return NewGenericError("failed to stage input", "", err).
			WithCode(ErrCodeStaging).
			WithDetail("path", path)
	}
	return nil
}

// Read returns the content at path. A missing or zero-length file is an
// empty_output failure: the operation logically produced nothing.
func (s *Staging) Read(path string) ([]byte, error) {
	data, err := s.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewEmptyOutputError(path)
		}
		return nil, NewGenericError("failed to read output", "", err).
			WithCode(ErrCodeStaging).
			WithDetail("path", path)
	}
	if len(data) == 0 {
		return nil, NewEmptyOutputError(path)
	}
	return data, nil
}

// Exists reports whether path is staged.
func (s *Staging) Exists(path string) bool {
	return s.fs.Exists(path)
}

// TryUnlink removes path on a best-effort basis. A missing path is a no-op;
// any other failure is logged and counted, never returned.
func (s *Staging) TryUnlink(path string, operation OperationKind) {
	err := s.fs.Remove(path)
	switch {
	case err == nil:
		s.logger.Trace().Str("path", path).Msg("Unlinked staged file")
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Trace().Str("path", path).Msg("Staged file already absent")
	default:
		s.metrics.RecordCleanupFailure(string(operation))
		s.logger.Warn().
			Err(err).
			Str("path", path).
			Str("failure", string(FailureCleanup)).
			Msg("Failed to unlink staged file")
	}
}
