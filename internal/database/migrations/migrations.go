// Package migrations embeds the schema owned by the dashboard itself. Church
// records live in the REST backend; only the audit trail is stored here.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
