package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/securactl/securactl/pkg/convention"
)

// conventionBundle is the YAML document shape: either a list under a
// top-level "conventions" key or a single convention document.
type conventionBundle struct {
	Conventions []*convention.Convention `yaml:"conventions"`
}

// LoadConventions reads a YAML convention bundle, validates it, and
// finalizes every convention (pattern compilation, evaluator setup).
func LoadConventions(path string, logger zerolog.Logger) ([]*convention.Convention, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading convention bundle %s: %w", path, err)
	}

	var bundle conventionBundle
	if err := yaml.Unmarshal(content, &bundle); err != nil {
		return nil, fmt.Errorf("parsing convention bundle %s: %w", path, err)
	}
	if len(bundle.Conventions) == 0 {
		var single convention.Convention
		if err := yaml.Unmarshal(content, &single); err != nil || single.Name == "" {
			return nil, fmt.Errorf("convention bundle %s declares no conventions", path)
		}
		bundle.Conventions = []*convention.Convention{&single}
	}

	validate := validator.New()
	for _, c := range bundle.Conventions {
		if err := validate.Struct(c); err != nil {
			return nil, fmt.Errorf("convention bundle %s: %w", path, err)
		}
		if err := c.Finalize(logger); err != nil {
			return nil, fmt.Errorf("convention bundle %s: %w", path, err)
		}
	}
	return bundle.Conventions, nil
}
