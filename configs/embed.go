// Package configs holds configuration templates embedded at build time.
//
// ProjectConfigTemplate is written by `hol config init --project`. Keep it
// in step with the defaults in internal/config.
package configs

import _ "embed"

// ProjectConfigTemplate is a commented .hol.yaml for a corpus checkout.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
