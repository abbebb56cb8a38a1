package repositories

import (
	"chat-relay/contract"
	"chat-relay/errors"
	"chat-relay/repositories/sqlstore"
	"fmt"
	"log/slog"
)

const DriverBadger = "badger"

// OpenGateway builds the PersistenceGateway for driver.
// badgerPath is used by the badger driver (empty means in memory), dsn by the SQL drivers.
func OpenGateway(driver, badgerPath, dsn string, log *slog.Logger) (contract.PersistenceGateway, error) {
	switch driver {
	case DriverBadger, "":
		db, err := OpenBadger(badgerPath, log)
		if err != nil {
			return nil, fmt.Errorf("badger open failed: %w", err)
		}
		gateway, err := NewBadgerGateway(db, log)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return gateway, nil
	case sqlstore.DriverSqlite, sqlstore.DriverMysql:
		db, err := sqlstore.Open(driver, dsn, log)
		if err != nil {
			return nil, fmt.Errorf("%s open failed: %w", driver, err)
		}
		return sqlstore.NewGateway(db, log), nil
	default:
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownDriver, driver)
	}
}
