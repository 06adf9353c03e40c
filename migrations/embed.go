// Package migrations embeds the schema so binaries and tests apply it without
// a migrations directory on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
