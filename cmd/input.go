package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/subsidy-match/internal/eval"
	"github.com/sells-group/subsidy-match/internal/profile"
	"github.com/sells-group/subsidy-match/internal/rules"
)

// readDataset loads a dataset file (JSON or YAML) or derives one from a farm
// profile file. It returns nil when both paths are empty.
func readDataset(datasetPath, profilePath string, asOf time.Time) (eval.Dataset, error) {
	switch {
	case datasetPath != "" && profilePath != "":
		return nil, eris.New("use either --dataset or --profile, not both")
	case datasetPath != "":
		data, err := os.ReadFile(datasetPath)
		if err != nil {
			return nil, eris.Wrapf(err, "read dataset %s", datasetPath)
		}
		if isYAML(datasetPath) {
			var ds eval.Dataset
			if err := yaml.Unmarshal(data, &ds); err != nil {
				return nil, eris.Wrapf(err, "decode dataset %s", datasetPath)
			}
			if ds == nil {
				ds = eval.Dataset{}
			}
			return ds, nil
		}
		return eval.ParseDataset(data)
	case profilePath != "":
		data, err := os.ReadFile(profilePath)
		if err != nil {
			return nil, eris.Wrapf(err, "read profile %s", profilePath)
		}
		p, err := profile.Decode(data, filepath.Ext(profilePath))
		if err != nil {
			return nil, err
		}
		return p.Dataset(asOf), nil
	default:
		return nil, nil
	}
}

// readRuleSet loads a rule set file, choosing the decoder by extension.
func readRuleSet(path string) (rules.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read rule set %s", path)
	}
	if isYAML(path) {
		return rules.ParseYAML(data)
	}
	return rules.ParseJSON(data)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
