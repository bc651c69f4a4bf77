// Package captcha issues short-lived image challenges and validates
// answers. A challenge is burned on its first validation attempt whether or
// not the answer is right.
package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dchest/captcha"
	"github.com/sirupsen/logrus"

	"github.com/arclabs/arcgate/pkg/httperr"
	"github.com/arclabs/arcgate/pkg/store"
)

const (
	challengeTTL    = 60 * time.Second
	challengeDigits = 5
	imageWidth      = 220
	imageHeight     = 120
)

// Generator produces a challenge text and its PNG rendering. Swappable so
// tests can use a deterministic implementation.
type Generator interface {
	Generate() (text string, png []byte, err error)
}

type imageGenerator struct{}

func (imageGenerator) Generate() (string, []byte, error) {
	digits := captcha.RandomDigits(challengeDigits)
	img := captcha.NewImage("", digits, imageWidth, imageHeight)

	var buf bytes.Buffer
	if _, err := img.WriteTo(&buf); err != nil {
		return "", nil, fmt.Errorf("rendering captcha: %w", err)
	}

	text := make([]byte, len(digits))
	for i, d := range digits {
		text[i] = '0' + d
	}

	return string(text), buf.Bytes(), nil
}

// Service issues and validates captcha challenges.
type Service struct {
	log   logrus.FieldLogger
	store store.Store
	gen   Generator
}

// NewService creates a captcha service with the default image generator.
func NewService(log logrus.FieldLogger, st store.Store) *Service {
	return &Service{
		log:   log.WithField("component", "captcha"),
		store: st,
		gen:   imageGenerator{},
	}
}

// WithGenerator overrides the challenge generator.
func (s *Service) WithGenerator(gen Generator) *Service {
	s.gen = gen

	return s
}

// Generate creates a challenge and returns its id and base64-encoded PNG.
func (s *Service) Generate(ctx context.Context) (id, imageB64 string, err error) {
	text, png, err := s.gen.Generate()
	if err != nil {
		return "", "", err
	}

	row := &store.Captcha{
		Text:      text,
		ExpiresAt: time.Now().UTC().Add(challengeTTL),
	}

	if err := s.store.CreateCaptcha(ctx, row); err != nil {
		return "", "", err
	}

	return row.ID, base64.StdEncoding.EncodeToString(png), nil
}

// Validate burns the challenge and compares the answer case-insensitively.
// Missing, expired, already-used, or wrong answers all return
// INVALID_CAPTCHA.
func (s *Service) Validate(ctx context.Context, id, answer string) error {
	if id == "" || answer == "" {
		return httperr.ErrInvalidCaptcha
	}

	text, err := s.store.BurnCaptcha(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httperr.ErrInvalidCaptcha
		}

		return err
	}

	if !strings.EqualFold(text, answer) {
		return httperr.ErrInvalidCaptcha
	}

	return nil
}
