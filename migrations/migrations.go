// Package migrations embeds the schema and seed SQL shipped with the binary.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql
var schemaFS embed.FS

//go:embed seed/*.sql
var seedFS embed.FS

// Schema returns the migration files rooted at the directory that holds them.
func Schema() fs.FS {
	sub, err := fs.Sub(schemaFS, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Seeds returns the seed files rooted at the directory that holds them.
func Seeds() fs.FS {
	sub, err := fs.Sub(seedFS, "seed")
	if err != nil {
		panic(err)
	}
	return sub
}
