package store

import "fmt"

const (
	DriverBolt  = "bolt"
	DriverMysql = "mysql"
)

// Open opens the backend named by driver. source is a file path for bolt
// and a DSN for mysql.
func Open(driver, source string) (IDocStore, error) {
	switch driver {
	case DriverBolt:
		return OpenBolt(source)
	case DriverMysql:
		return OpenMysql(source)
	default:
		return nil, fmt.Errorf("unknown store driver `%s`", driver)
	}
}
