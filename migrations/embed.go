package migrations

import "embed"

// Files exposes embedded SQL migrations, one directory per database driver.
// Files inside each directory are applied in lexicographical order.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS
