package server

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate runs schema migrations against dsn. src is a golang-migrate source
// URL (defaults to file://migrations, where the repo keeps its numbered
// up/down pairs). steps limits how many migrations run; 0 means all of them.
// An already up-to-date schema is not an error.
func Migrate(src string, dsn string, direction string, steps int) error {
	if src == "" {
		src = "file://migrations"
	}
	if dsn == "" {
		return errors.New("migrate: empty dsn")
	}

	m, err := migrate.New(src, dsn)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	switch direction {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("unknown direction: %s", direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
