package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// HivNumberSource is the name of the sequence backing HIV unique patient
// numbers.
const HivNumberSource = "hiv_unique_patient_number"

var errInvalidDigits = errors.New("identifier body must be decimal digits")

// Repository is the persistent sequence store for identifier sources.
type Repository interface {
	// Next atomically advances the named source and returns the value taken.
	Next(ctx context.Context, source string) (int64, error)

	// Setup registers the named source starting at startFrom. Setting up a
	// source that already exists is an error.
	Setup(ctx context.Context, source string, startFrom int64) error
}

// Service issues facility-prefixed patient identifiers.
type Service struct {
	repo    Repository
	mflCode string
	log     zerolog.Logger
}

// NewService builds an identifier service for the facility with the given
// master facility list code.
func NewService(repo Repository, mflCode string, log zerolog.Logger) *Service {
	return &Service{repo: repo, mflCode: mflCode, log: log}
}

// NextHivNumber generates the next HIV unique patient number: the facility
// MFL code, the next sequence value, and a Luhn mod-10 check digit over both.
func (s *Service) NextHivNumber(ctx context.Context) (string, error) {
	if s.mflCode == "" {
		return "", fmt.Errorf("facility MFL code is not configured")
	}
	seq, err := s.repo.Next(ctx, HivNumberSource)
	if err != nil {
		return "", fmt.Errorf("advance identifier source: %w", err)
	}
	body := fmt.Sprintf("%s%d", s.mflCode, seq)
	check, err := luhnCheckDigit(body)
	if err != nil {
		return "", fmt.Errorf("check digit for %q: %w", body, err)
	}
	return fmt.Sprintf("%s%d", body, check), nil
}

// SetupSources registers the identifier sources this service draws from.
func (s *Service) SetupSources(ctx context.Context, startFrom int64) error {
	if startFrom < 1 {
		return fmt.Errorf("start value must be positive, got %d", startFrom)
	}
	if err := s.repo.Setup(ctx, HivNumberSource, startFrom); err != nil {
		return fmt.Errorf("setup %s: %w", HivNumberSource, err)
	}
	s.log.Info().Str("source", HivNumberSource).Int64("start_from", startFrom).
		Msg("identifier source registered")
	return nil
}
