package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	badgerdb "github.com/arkade-os/solverd/internal/infrastructure/db/badger"
	pgdb "github.com/arkade-os/solverd/internal/infrastructure/db/postgres"
	sqlitedb "github.com/arkade-os/solverd/internal/infrastructure/db/sqlite"
	watermilldb "github.com/arkade-os/solverd/internal/infrastructure/db/watermill"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	log "github.com/sirupsen/logrus"
)

//go:embed sqlite/migration/*
var migrations embed.FS

//go:embed postgres/migration/*
var pgMigration embed.FS

var (
	eventStoreTypes = map[string]func(...interface{}) (domain.EventRepository, error){
		"inmemory": watermilldb.NewInMemoryEventRepository,
		"postgres": watermilldb.NewPostgresEventRepository,
	}
	checkpointStoreTypes = map[string]func(...interface{}) (domain.CheckpointRepository, error){
		"badger":   badgerdb.NewCheckpointRepository,
		"sqlite":   sqlitedb.NewCheckpointRepository,
		"postgres": pgdb.NewCheckpointRepository,
	}
	liquidityStoreTypes = map[string]func(...interface{}) (domain.LiquidityRepository, error){
		"badger":   badgerdb.NewLiquidityRepository,
		"sqlite":   sqlitedb.NewLiquidityRepository,
		"postgres": pgdb.NewLiquidityRepository,
	}
	receiptStoreTypes = map[string]func(...interface{}) (domain.ReceiptRepository, error){
		"badger":   badgerdb.NewReceiptRepository,
		"sqlite":   sqlitedb.NewReceiptRepository,
		"postgres": pgdb.NewReceiptRepository,
	}
	settlementStoreTypes = map[string]func(...interface{}) (domain.SettlementRepository, error){
		"badger":   badgerdb.NewSettlementRepository,
		"sqlite":   sqlitedb.NewSettlementRepository,
		"postgres": pgdb.NewSettlementRepository,
	}
)

const (
	sqliteDbFile = "sqlite.db"
)

type ServiceConfig struct {
	EventStoreType string
	DataStoreType  string

	EventStoreConfig []interface{}
	DataStoreConfig  []interface{}
}

type service struct {
	eventStore      domain.EventRepository
	checkpointStore domain.CheckpointRepository
	liquidityStore  domain.LiquidityRepository
	receiptStore    domain.ReceiptRepository
	settlementStore domain.SettlementRepository

	closeOnce sync.Once
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	eventStoreFactory, ok := eventStoreTypes[config.EventStoreType]
	if !ok {
		return nil, fmt.Errorf("event store type not supported")
	}
	checkpointStoreFactory, ok := checkpointStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}
	liquidityStoreFactory, ok := liquidityStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}
	receiptStoreFactory, ok := receiptStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}
	settlementStoreFactory, ok := settlementStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}

	var eventStore domain.EventRepository
	var checkpointStore domain.CheckpointRepository
	var liquidityStore domain.LiquidityRepository
	var receiptStore domain.ReceiptRepository
	var settlementStore domain.SettlementRepository
	var err error

	switch config.EventStoreType {
	case "inmemory":
		eventStore, err = eventStoreFactory(config.EventStoreConfig...)
		if err != nil {
			return nil, fmt.Errorf("failed to open event store: %s", err)
		}
	case "postgres":
		db, err := openPostgres(config.EventStoreConfig)
		if err != nil {
			return nil, err
		}
		eventStore, err = eventStoreFactory(db)
		if err != nil {
			return nil, fmt.Errorf("failed to open event store: %s", err)
		}
	default:
		return nil, fmt.Errorf("unknown event store db type")
	}

	var dataStoreConfig []interface{}
	switch config.DataStoreType {
	case "badger":
		dataStoreConfig = config.DataStoreConfig
	case "postgres":
		db, err := openPostgres(config.DataStoreConfig)
		if err != nil {
			return nil, err
		}

		pgDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to init postgres migration driver: %s", err)
		}

		source, err := iofs.New(pgMigration, "postgres/migration")
		if err != nil {
			return nil, fmt.Errorf("failed to embed postgres migrations: %s", err)
		}

		m, err := migrate.NewWithInstance("iofs", source, "postgres", pgDriver)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres migration instance: %s", err)
		}

		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, fmt.Errorf("failed to run postgres migrations: %s", err)
		}

		dataStoreConfig = []interface{}{db}
	case "sqlite":
		if len(config.DataStoreConfig) != 1 {
			return nil, fmt.Errorf("invalid data store config")
		}

		baseDir, ok := config.DataStoreConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid base directory")
		}

		dbFile := filepath.Join(baseDir, sqliteDbFile)
		db, err := sqlitedb.OpenDb(dbFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open db: %s", err)
		}

		driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to init driver: %s", err)
		}

		source, err := iofs.New(migrations, "sqlite/migration")
		if err != nil {
			return nil, fmt.Errorf("failed to embed migrations: %s", err)
		}

		m, err := migrate.NewWithInstance("iofs", source, "solverdb", driver)
		if err != nil {
			return nil, fmt.Errorf("failed to create migration instance: %s", err)
		}

		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, fmt.Errorf("failed to run migrations: %s", err)
		}

		dataStoreConfig = []interface{}{db}
	}

	checkpointStore, err = checkpointStoreFactory(dataStoreConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %s", err)
	}
	liquidityStore, err = liquidityStoreFactory(dataStoreConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open liquidity store: %s", err)
	}
	receiptStore, err = receiptStoreFactory(dataStoreConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open receipt store: %s", err)
	}
	settlementStore, err = settlementStoreFactory(dataStoreConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open settlement store: %s", err)
	}

	log.Debugf(
		"opened %s event store and %s data store", config.EventStoreType, config.DataStoreType,
	)

	return &service{
		eventStore:      eventStore,
		checkpointStore: checkpointStore,
		liquidityStore:  liquidityStore,
		receiptStore:    receiptStore,
		settlementStore: settlementStore,
	}, nil
}

func (s *service) Events() domain.EventRepository {
	return s.eventStore
}

func (s *service) Checkpoints() domain.CheckpointRepository {
	return s.checkpointStore
}

func (s *service) Liquidity() domain.LiquidityRepository {
	return s.liquidityStore
}

func (s *service) Receipts() domain.ReceiptRepository {
	return s.receiptStore
}

func (s *service) Settlements() domain.SettlementRepository {
	return s.settlementStore
}

func (s *service) Close() {
	s.closeOnce.Do(func() {
		s.eventStore.Close()
		s.checkpointStore.Close()
		s.liquidityStore.Close()
		s.receiptStore.Close()
		s.settlementStore.Close()
	})
}

func openPostgres(config []interface{}) (*sql.DB, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid data store config for postgres")
	}

	dsn, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid DSN for postgres")
	}

	autoCreate, ok := config[1].(bool)
	if !ok {
		return nil, fmt.Errorf("invalid autocreate flag for postgres")
	}

	db, err := pgdb.OpenDb(dsn, autoCreate)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres db: %s", err)
	}
	return db, nil
}
