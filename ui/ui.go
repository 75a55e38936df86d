// Package ui embeds the SPA shell served from ui/dist.
package ui

import "embed"

// FS holds the embedded shell assets.
//
//go:embed dist
var FS embed.FS
