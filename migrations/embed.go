// Package migrations embeds the identity schema migrations into the binary,
// so identityd can migrate without the SQL files on disk.
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil { ... }
package migrations

import "embed"

// FS holds the YYYYMMDD_HHMMSS_name.{up,down}.sql files at its root.
//
//go:embed *.sql
var FS embed.FS
