// Package policy loads the strategic policy document and evaluates
// request alignment against it. The evaluator is deterministic: a
// request is rejected only on an explicit scope-out or constraint match
// at or above the reject threshold, and ambiguous requests pass.
package policy

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Policy is the externally-maintained strategic source of truth. It is
// read-only to the engine and re-parsed per evaluation; call volume is
// low enough that no cache is kept.
type Policy struct {
	Version     int      `koanf:"version"`
	Goals       []string `koanf:"goals"`
	ScopeIn     []string `koanf:"scope_in"`
	ScopeOut    []string `koanf:"scope_out"`
	Constraints []string `koanf:"constraints"`
	// SkipStages is the only supported way to skip pipeline stages.
	// Stage skipping is policy-document configuration, never an
	// implicit judgment call.
	SkipStages []string `koanf:"skip_stages"`
}

// Load parses the policy document at path. A missing file returns
// (nil, nil): the evaluator fails open without a policy. A file that
// exists but does not parse is an error for the caller to log before
// likewise failing open.
func Load(path string) (*Policy, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read policy document: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse policy document %s: %w", path, err)
	}

	var p Policy
	if err := k.Unmarshal("", &p); err != nil {
		return nil, fmt.Errorf("unmarshal policy document %s: %w", path, err)
	}
	return &p, nil
}
