// Package templates embeds the default configuration and policy
// documents written by `stagehand init`.
package templates

import "embed"

//go:embed config.yaml policy.yaml
var FS embed.FS
