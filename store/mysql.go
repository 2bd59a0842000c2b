package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
)

const (
	createTableSQL = "CREATE TABLE IF NOT EXISTS documents (" +
		"bucket VARCHAR(32) NOT NULL, " +
		"doc_key VARCHAR(128) NOT NULL, " +
		"body MEDIUMBLOB NOT NULL, " +
		"update_time DATETIME(3) NOT NULL, " +
		"PRIMARY KEY (bucket, doc_key)" +
		") ENGINE=InnoDB"

	getDocSQL    = "SELECT body FROM documents WHERE bucket=? AND doc_key=?"
	lockDocSQL   = "SELECT body FROM documents WHERE bucket=? AND doc_key=? FOR UPDATE"
	insertDocSQL = "INSERT INTO documents (bucket, doc_key, body, update_time) VALUES (?,?,?,?)"
	updateDocSQL = "UPDATE documents SET body=?, update_time=? WHERE bucket=? AND doc_key=?"
)

// MysqlStore implements IDocStore on one InnoDB table. Create relies on the
// primary key to reject a second insert; Update locks the row with
// SELECT ... FOR UPDATE so concurrent writers of the same key queue up.
type MysqlStore struct {
	*sql.DB
}

func OpenMysql(dsn string) (*MysqlStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	db.SetConnMaxLifetime(time.Minute * 3)
	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(1)

	s := NewMysqlStore(db)
	if err := s.Init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewMysqlStore(db *sql.DB) *MysqlStore {
	return &MysqlStore{db}
}

// Init creates the documents table.
func (s *MysqlStore) Init(ctx context.Context) error {
	_, err := s.ExecContext(ctx, createTableSQL)
	return err
}

func (s *MysqlStore) withTx(ctx context.Context, exec func(ctx context.Context, tx *sql.Tx) error, opts ...*sql.TxOptions) error {
	var txOpts *sql.TxOptions
	if len(opts) == 0 {
		txOpts = &sql.TxOptions{
			Isolation: sql.LevelRepeatableRead,
			ReadOnly:  false,
		}
	} else {
		txOpts = opts[0]
	}
	tx, err := s.BeginTx(ctx, txOpts)
	if err != nil {
		return err
	}

	if err := exec(ctx, tx); err != nil {
		if err2 := tx.Rollback(); err2 != nil {
			glog.Errorf("failed to rollback: %v, cause: %v", err2, err)
		}
		return err
	}

	return tx.Commit()
}

func (s *MysqlStore) IsDupKeyError(err error) bool {
	var val *mysql.MySQLError
	if errors.As(err, &val) {
		return val.Number == 1062
	}
	return false
}

func (s *MysqlStore) Get(ctx context.Context, bucket Bucket, key string) ([]byte, error) {
	var body []byte
	row := s.QueryRowContext(ctx, getDocSQL, string(bucket), key)
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		glog.Errorf("get document scan err: %v", err)
		return nil, err
	}
	return body, nil
}

func (s *MysqlStore) Create(ctx context.Context, bucket Bucket, key string, doc []byte) (bool, error) {
	if _, err := s.ExecContext(ctx, insertDocSQL, string(bucket), key, doc, time.Now()); err != nil {
		if s.IsDupKeyError(err) {
			return false, nil
		}
		glog.Errorf("insert document exec err: %v", err)
		return false, err
	}
	return true, nil
}

func (s *MysqlStore) Update(ctx context.Context, bucket Bucket, key string, fn UpdateFunc) error {
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var body []byte
		row := tx.QueryRowContext(ctx, lockDocSQL, string(bucket), key)
		if err := row.Scan(&body); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			glog.Errorf("lock document scan err: %v", err)
			return err
		}

		doc, err := fn(body)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, updateDocSQL, doc, time.Now(), string(bucket), key); err != nil {
			glog.Errorf("update document exec err: %v", err)
			return err
		}
		return nil
	})
	if errors.Is(err, ErrSkipWrite) {
		return nil
	}
	return err
}

func (s *MysqlStore) Close() error {
	return s.DB.Close()
}
