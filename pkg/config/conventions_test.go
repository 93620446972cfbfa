package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securactl/securactl/pkg/securable"
)

func writeBundle(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conventions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConventionsBundle(t *testing.T) {
	path := writeBundle(t, `
conventions:
  - name: org-wide
    default_tags:
      - key: team
        value: data-platform
      - key: tier
        value: standard
        env_values:
          prod: gold
    required_tags:
      - key: team
    naming_rules:
      - pattern: "^[a-z][a-z0-9_]*$"
        description: lower snake case
        applies_to: [schema, volume]
`)
	conventions, err := LoadConventions(path, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, conventions, 1)

	c := conventions[0]
	assert.Equal(t, "org-wide", c.Name)

	cat := securable.NewCatalog("sales")
	require.NoError(t, c.ApplyTo(cat, "prod"))
	v, _ := cat.Tags().Get("tier")
	assert.Equal(t, "gold", v)

	// Finalize compiled the pattern; a bad schema name is caught.
	assert.NotEmpty(t, c.ValidateSecurable(securable.NewSchema("Bad-Name")))
}

func TestLoadConventionsSingleDocument(t *testing.T) {
	path := writeBundle(t, `
name: solo
default_tags:
  - key: team
    value: x
`)
	conventions, err := LoadConventions(path, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, conventions, 1)
	assert.Equal(t, "solo", conventions[0].Name)
}

func TestLoadConventionsRejectsBadPattern(t *testing.T) {
	path := writeBundle(t, `
conventions:
  - name: broken
    naming_rules:
      - pattern: "^[unclosed"
`)
	_, err := LoadConventions(path, zerolog.Nop())
	require.Error(t, err)
}

func TestLoadConventionsRejectsEmptyBundle(t *testing.T) {
	path := writeBundle(t, "# nothing here\n")
	_, err := LoadConventions(path, zerolog.Nop())
	require.Error(t, err)
}
