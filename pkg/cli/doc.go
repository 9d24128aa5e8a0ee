// Package cli holds helpers shared by the paprika command line:
// result output (YAML, JSON or raw, optionally filtered by a jq query),
// request files in YAML or JSON, the per-user directory layout and the
// terminal styles of interactive prompts.
//
// Per-user state lives under ~/.paprika/.
package cli
