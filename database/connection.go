// Package database holds the gorm-backed persistence layer: the MariaDB
// connection and the snapshot persistence bridge core.SnapshotStore rehydrates
// from on a cache miss.
package database

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// MariaDBConfig holds MariaDB connection configuration.
type MariaDBConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Charset  string `json:"charset" yaml:"charset"`
}

// Connection is the narrow seam every repository in this package depends on
// instead of a concrete *gorm.DB, so tests can substitute MemoryConnection.
type Connection interface {
	Close() error
	Ping() error
	GetStatus() string
	GetGormDB() *gorm.DB
}

// MariaDBConnection implements Connection against a real MariaDB instance.
type MariaDBConnection struct {
	config    *MariaDBConfig
	db        *gorm.DB
	connected bool
}

// NewMariaDBConnection opens a MariaDB connection from config.
func NewMariaDBConnection(config *MariaDBConfig) (*MariaDBConnection, error) {
	if config == nil {
		return nil, fmt.Errorf("mariadb config is required")
	}

	conn := &MariaDBConnection{config: config}
	if err := conn.validateConfig(); err != nil {
		return nil, fmt.Errorf("invalid mariadb config: %w", err)
	}

	if config.Charset == "" {
		config.Charset = "utf8mb4"
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		config.Username, config.Password, config.Host, config.Port, config.Database, config.Charset)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mariadb: %w", err)
	}

	conn.db = db
	conn.connected = true

	log.WithFields(log.Fields{
		"host":     config.Host,
		"port":     config.Port,
		"database": config.Database,
	}).Info("mariadb connection established")

	return conn, nil
}

// Close closes the underlying connection.
func (c *MariaDBConnection) Close() error {
	if !c.connected || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		return err
	}
	c.connected = false
	return nil
}

// Ping verifies the connection is alive.
func (c *MariaDBConnection) Ping() error {
	if !c.connected || c.db == nil {
		return fmt.Errorf("not connected to database")
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql db: %w", err)
	}
	return sqlDB.Ping()
}

// GetStatus reports "connected", "error", or "disconnected".
func (c *MariaDBConnection) GetStatus() string {
	if c.connected && c.db != nil {
		if err := c.Ping(); err == nil {
			return "connected"
		}
		return "error"
	}
	return "disconnected"
}

// GetGormDB returns the underlying gorm handle.
func (c *MariaDBConnection) GetGormDB() *gorm.DB {
	return c.db
}

func (c *MariaDBConnection) validateConfig() error {
	if c.config.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.config.Port <= 0 || c.config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.config.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.config.Username == "" {
		return fmt.Errorf("username is required")
	}
	return nil
}

// MemoryConnection implements Connection with no backing store, for tests and
// for operators who run invsentry with in-memory snapshot storage only.
type MemoryConnection struct{}

// NewMemoryConnection constructs a no-op connection.
func NewMemoryConnection() *MemoryConnection {
	log.Info("using in-memory storage, snapshots will not survive a restart")
	return &MemoryConnection{}
}

func (c *MemoryConnection) Close() error    { return nil }
func (c *MemoryConnection) Ping() error     { return nil }
func (c *MemoryConnection) GetStatus() string { return "memory" }
func (c *MemoryConnection) GetGormDB() *gorm.DB { return nil }
