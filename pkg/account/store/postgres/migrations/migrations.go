// Package migrations embeds the account schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
