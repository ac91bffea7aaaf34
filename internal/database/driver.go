package database

import (
	"fmt"
	"strings"
)

// DriverName はDB_URLから判定したデータストアの種類。
type DriverName string

const (
	DriverMongo    DriverName = "mongo"
	DriverPostgres DriverName = "postgres"
)

// Driver はDB_URLのスキームからデータストアの種類を判定する。
func Driver(databaseURL string) (DriverName, error) {
	if databaseURL == "" {
		return "", ErrDatabaseURLNotDefined
	}

	lower := strings.ToLower(databaseURL)
	switch {
	case strings.HasPrefix(lower, "mongodb://"), strings.HasPrefix(lower, "mongodb+srv://"):
		return DriverMongo, nil
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DriverPostgres, nil
	}

	scheme := databaseURL
	if i := strings.Index(databaseURL, "://"); i >= 0 {
		scheme = databaseURL[:i]
	}
	return "", fmt.Errorf("unsupported database url scheme: %q", scheme)
}
