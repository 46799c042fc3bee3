// Package migrations embeds the schema files so the binary can migrate
// without a checkout on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
