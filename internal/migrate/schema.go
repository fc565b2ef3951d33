package migrate

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql
var schemaFiles embed.FS

// Schema returns the embedded migrations for role_assignments and audit_logs.
func Schema() fs.FS {
	sub, err := fs.Sub(schemaFiles, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}
