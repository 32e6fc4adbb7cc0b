package store

import (
	"context"
	"fmt"
	"io"
	"os"

	"rate-reconciliation-service/internal/models"
	rerrors "rate-reconciliation-service/pkg/errors"

	"gopkg.in/yaml.v3"
)

// FixtureFile is the YAML layout of a seed file
type FixtureFile struct {
	Documents []*models.Document `yaml:"documents"`
}

// LoadFixtures reads a YAML fixture file from disk
func LoadFixtures(path string) (*FixtureFile, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rerrors.FileError(rerrors.CodeFileNotFound, path, err)
		}
		return nil, rerrors.FileError(rerrors.CodeFilePermission, path, err)
	}
	defer f.Close()

	fixtures, err := DecodeFixtures(f)
	if err != nil {
		return nil, fmt.Errorf("loading fixtures %s: %w", path, err)
	}
	return fixtures, nil
}

// DecodeFixtures decodes and validates a YAML fixture stream
func DecodeFixtures(r io.Reader) (*FixtureFile, error) {
	var fixtures FixtureFile
	if err := yaml.NewDecoder(r).Decode(&fixtures); err != nil {
		if err == io.EOF {
			return &fixtures, nil
		}
		return nil, rerrors.ParseError(rerrors.CodeInvalidFormat, "fixtures", 0, "documents", "", err)
	}

	for i, doc := range fixtures.Documents {
		if doc == nil {
			return nil, rerrors.ValidationError(rerrors.CodeMissingField, fmt.Sprintf("documents[%d]", i), nil, nil)
		}
		if err := doc.Validate(); err != nil {
			return nil, rerrors.ValidationError(rerrors.CodeInvalidData, fmt.Sprintf("documents[%d]", i), doc.ID, err)
		}
	}
	return &fixtures, nil
}

// Seed writes every fixture document into the store and returns the count
func Seed(ctx context.Context, s Seeder, fixtures *FixtureFile) (int, error) {
	for _, doc := range fixtures.Documents {
		if err := s.Put(ctx, doc); err != nil {
			return 0, fmt.Errorf("seeding %s %s: %w", doc.Type, doc.ID, err)
		}
	}
	return len(fixtures.Documents), nil
}
