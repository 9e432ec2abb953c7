package db

import (
	"strings"

	"github.com/teranos/qntx-task/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database,
// typically while the scheduler drains during shutdown.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// Driver errors are not wrapped at the source, so their message is matched too.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}

	return strings.Contains(err.Error(), "database is closed")
}
