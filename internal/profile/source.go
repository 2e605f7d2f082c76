package profile

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/subsidy-match/internal/eval"
)

// ErrNotFound is returned when no profile exists for a user.
var ErrNotFound = eris.New("profile: not found")

var extensions = []string{".yaml", ".yml", ".json"}

// DirSource reads profiles from <dir>/<user_id>.{yaml,yml,json}.
type DirSource struct {
	dir string
	now func() time.Time
}

// NewDirSource creates a DirSource rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir, now: time.Now}
}

// Profile loads the user's profile.
func (s *DirSource) Profile(_ context.Context, userID string) (*FarmProfile, error) {
	if userID == "" || userID != filepath.Base(userID) || strings.HasPrefix(userID, ".") {
		return nil, eris.Errorf("profile: invalid user id %q", userID)
	}
	for _, ext := range extensions {
		path := filepath.Join(s.dir, userID+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "profile: read %s", path)
		}
		p, err := Decode(data, ext)
		if err != nil {
			return nil, eris.Wrapf(err, "profile: decode %s", path)
		}
		if p.UserID == "" {
			p.UserID = userID
		}
		return p, nil
	}
	return nil, eris.Wrapf(ErrNotFound, "user %s", userID)
}

// Dataset implements matcher.DatasetSource.
func (s *DirSource) Dataset(ctx context.Context, userID string) (eval.Dataset, error) {
	p, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.Dataset(s.now().UTC()), nil
}

// Decode parses a profile document; ext selects JSON (".json") or YAML.
func Decode(data []byte, ext string) (*FarmProfile, error) {
	var p FarmProfile
	if strings.EqualFold(ext, ".json") {
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, eris.Wrap(err, "profile: parse json")
		}
		return &p, nil
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "profile: parse yaml")
	}
	return &p, nil
}
