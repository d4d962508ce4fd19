package retrieve

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nao1215/repocrawl/internal/model"
)

// OriginFile names the file inside a checkout's .git directory that
// records which repository was cloned there. The filter and the token
// counter never enter .git, so it survives both.
const OriginFile = "repocrawl-origin.json"

// ErrNoOrigin is returned for a directory that was not completely cloned
// by a Cloner.
var ErrNoOrigin = errors.New("checkout has no origin")

func originPath(dir string) string {
	return filepath.Join(dir, ".git", OriginFile)
}

// WriteOrigin records repo as the origin of the checkout in dir.
func WriteOrigin(dir string, repo model.Repository) error {
	data, err := json.Marshal(repo)
	if err != nil {
		return fmt.Errorf("failed to encode origin: %w", err)
	}
	if err := os.WriteFile(originPath(dir), data, 0600); err != nil {
		return fmt.Errorf("failed to write origin: %w", err)
	}
	return nil
}

// ReadOrigin returns the repository cloned into dir.
func ReadOrigin(dir string) (model.Repository, error) {
	data, err := os.ReadFile(originPath(dir)) //nolint:gosec // dir is under the clone root
	if errors.Is(err, os.ErrNotExist) {
		return model.Repository{}, ErrNoOrigin
	}
	if err != nil {
		return model.Repository{}, fmt.Errorf("failed to read origin: %w", err)
	}

	var repo model.Repository
	if err := json.Unmarshal(data, &repo); err != nil {
		return model.Repository{}, fmt.Errorf("%w: %w", ErrNoOrigin, err)
	}
	if repo.ID == 0 {
		return model.Repository{}, fmt.Errorf("%w: missing id", ErrNoOrigin)
	}
	return repo, nil
}
