package migrate

import "net/url"

const (
	// defaultMigrationSource is resolved relative to the working directory.
	defaultMigrationSource = "modules/coinbase/database/postgresql/migrations"

	// migrationTable keeps schema versions separate from application tables.
	migrationTable = "coinbase_schema_migrations"
)

func cloneURLWithQuery(u *url.URL, newQuery url.Values) *url.URL {
	clone := *u
	query := clone.Query()
	for key, values := range newQuery {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	clone.RawQuery = query.Encode()
	return &clone
}

var supportedDrivers = map[string]struct{}{
	"postgres":   {},
	"postgresql": {},
}
