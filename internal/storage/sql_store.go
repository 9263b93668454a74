package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/annel0/voxel-stream/internal/logging"
	"github.com/annel0/voxel-stream/internal/world"
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// SQLDialect определяет различия между поддерживаемыми СУБД
type SQLDialect struct {
	Driver      string
	CreateTable string
	Upsert      string
	pragmas     []string
	singleConn  bool
}

// MySQLDialect диалект MariaDB/MySQL
var MySQLDialect = SQLDialect{
	Driver: "mysql",
	CreateTable: `
		CREATE TABLE IF NOT EXISTS chunks (
			level      VARCHAR(128) NOT NULL,
			x          INT          NOT NULL,
			y          INT          NOT NULL,
			z          INT          NOT NULL,
			blob_data  MEDIUMBLOB   NOT NULL,
			updated_at TIMESTAMP    DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE    CURRENT_TIMESTAMP,
			PRIMARY KEY (level, x, y, z)
		) ENGINE=InnoDB
	`,
	Upsert: `
		INSERT INTO chunks (level, x, y, z, blob_data)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE blob_data = VALUES(blob_data)
	`,
}

// SQLiteDialect диалект встроенной SQLite (modernc, без cgo)
var SQLiteDialect = SQLDialect{
	Driver: "sqlite",
	CreateTable: `
		CREATE TABLE IF NOT EXISTS chunks (
			level     TEXT    NOT NULL,
			x         INTEGER NOT NULL,
			y         INTEGER NOT NULL,
			z         INTEGER NOT NULL,
			blob_data BLOB    NOT NULL,
			PRIMARY KEY (level, x, y, z)
		)
	`,
	Upsert: `
		INSERT INTO chunks (level, x, y, z, blob_data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(level, x, y, z) DO UPDATE SET blob_data = excluded.blob_data
	`,
	pragmas: []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	},
	singleConn: true,
}

// SQLStore хранит блобы чанков в реляционной базе
type SQLStore struct {
	db      *sql.DB
	dialect SQLDialect
}

// NewSQLStore открывает базу по dsn и создаёт таблицу chunks
func NewSQLStore(ctx context.Context, dialect SQLDialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к %s: %w", dialect.Driver, err)
	}
	if dialect.singleConn {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с %s: %w", dialect.Driver, err)
	}

	for _, pragma := range dialect.pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, dialect.CreateTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка создания таблицы chunks: %w", err)
	}

	logging.GetStorageLogger().Info("🗄️ SQL хранилище чанков готово (%s)", dialect.Driver)
	return &SQLStore{db: db, dialect: dialect}, nil
}

func (s *SQLStore) Exists(ctx context.Context, id world.ChunkID, level string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chunks WHERE level = ? AND x = ? AND y = ? AND z = ?`,
		level, id.X, id.Y, id.Z).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка проверки чанка %s: %w", id, err)
	}
	return true, nil
}

func (s *SQLStore) Load(ctx context.Context, id world.ChunkID, level string) ([]byte, int, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT blob_data FROM chunks WHERE level = ? AND x = ? AND y = ? AND z = ?`,
		level, id.X, id.Y, id.Z).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("load %s: %w", id, ErrChunkNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка загрузки чанка %s: %w", id, err)
	}
	return DecodeVoxels(blob)
}

func (s *SQLStore) Save(ctx context.Context, id world.ChunkID, level string, voxels []byte, solidCount int) error {
	blob, err := EncodeVoxels(voxels, solidCount)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.Upsert, level, id.X, id.Y, id.Z, blob); err != nil {
		return fmt.Errorf("ошибка сохранения чанка %s: %w", id, err)
	}
	return nil
}

// Count количество чанков уровня в таблице
func (s *SQLStore) Count(ctx context.Context, level string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE level = ?`, level).Scan(&n)
	return n, err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
