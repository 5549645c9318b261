// Package setup initializes a stagehand workspace: the directory
// skeleton plus default config and policy documents.
package setup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/okanewa/stagehand/templates"
)

// dirs is the workspace skeleton under the home directory.
var dirs = []string{
	"workflows",
	"artifacts",
	"logs",
	"quarantine",
}

// Run creates the workspace at home. It refuses to touch a directory
// that already contains a stagehand config so a stray re-init cannot
// clobber live state.
func Run(home string) error {
	abs, err := filepath.Abs(home)
	if err != nil {
		return fmt.Errorf("resolve home dir: %w", err)
	}

	configPath := filepath.Join(abs, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already initialized", abs)
	}

	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(abs, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	// The config pins home to this workspace so commands pointed at it
	// with --config resolve stores and logs here.
	if err := writeTemplate("config.yaml", configPath, fmt.Sprintf("home: %s\n\n", abs)); err != nil {
		return err
	}
	if err := writeTemplate("policy.yaml", filepath.Join(abs, "policy.yaml"), ""); err != nil {
		return err
	}
	return nil
}

func writeTemplate(name, dst, prefix string) error {
	data, err := templates.FS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if prefix != "" {
		data = append([]byte(prefix), data...)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
