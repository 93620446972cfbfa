package config

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Parser loads CUE manifests. Multiple sources unify into one value, so
// a manifest can be split across files with shared definitions.
type Parser struct {
	ctx      *cue.Context
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewParser creates a manifest parser.
func NewParser(logger zerolog.Logger) *Parser {
	return &Parser{
		ctx:      cuecontext.New(),
		validate: validator.New(),
		logger:   logger.With().Str("component", "config").Logger(),
	}
}

// LoadManifest parses and validates the manifest at the given paths.
// Each path may be a CUE file or a directory loaded as a CUE package.
func (p *Parser) LoadManifest(paths ...string) (*Manifest, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no manifest sources given")
	}

	var unified cue.Value
	for _, path := range paths {
		val, err := p.loadSource(path)
		if err != nil {
			return nil, err
		}
		if unified.Exists() {
			unified = unified.Unify(val)
		} else {
			unified = val
		}
	}
	if err := unified.Err(); err != nil {
		return nil, fmt.Errorf("manifest does not unify: %s", cueerrors.Details(err, nil))
	}

	return p.decode(unified)
}

func (p *Parser) loadSource(path string) (cue.Value, error) {
	info, err := os.Stat(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("manifest source %s: %w", path, err)
	}

	if info.IsDir() {
		instances := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(instances) == 0 {
			return cue.Value{}, fmt.Errorf("no CUE files in %s", path)
		}
		inst := instances[0]
		if inst.Err != nil {
			return cue.Value{}, fmt.Errorf("loading %s: %s", path, cueerrors.Details(inst.Err, nil))
		}
		val := p.ctx.BuildInstance(inst)
		if err := val.Err(); err != nil {
			return cue.Value{}, fmt.Errorf("building %s: %s", path, cueerrors.Details(err, nil))
		}
		return val, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("reading %s: %w", path, err)
	}
	val := p.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("parsing %s: %s", path, cueerrors.Details(err, nil))
	}
	return val, nil
}

func (p *Parser) decode(val cue.Value) (*Manifest, error) {
	// The manifest may live under a top-level "manifest" field or be
	// the document root.
	root := val.LookupPath(cue.ParsePath("manifest"))
	if !root.Exists() {
		root = val
	}

	var m Manifest
	if err := root.Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %s", cueerrors.Details(err, nil))
	}
	if err := p.validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("manifest validation failed: %w", err)
	}

	p.logger.Debug().Int("catalogs", len(m.Catalogs)).Msg("manifest loaded")
	return &m, nil
}
