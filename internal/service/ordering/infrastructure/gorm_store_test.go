package infrastructure

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"eshop-ordering/internal/service/ordering/domain"
)

func setupGorm(t *testing.T) (*GormStateStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return NewGormStateStore(db), mock
}

func TestGormStateStoreTryGet(t *testing.T) {
	store, mock := setupGorm(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT \\* FROM `order_process_state`").
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "state_key", "value", "updated_at"}))
	_, ok, err := store.TryGet(ctx, "o1", "OrderStatus")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectQuery("SELECT \\* FROM `order_process_state`").
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "state_key", "value"}).
			AddRow("o1", "OrderStatus", []byte(`{"id":2}`)))
	value, ok, err := store.TryGet(ctx, "o1", "OrderStatus")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"id":2}`, string(value))

	mock.ExpectQuery("SELECT \\* FROM `order_process_state`").
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "state_key", "value"}))
	_, err = store.Get(ctx, "o1", "OrderDetails")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStateStoreSetManyUpserts(t *testing.T) {
	store, mock := setupGorm(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `order_process_state` .* ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := store.SetMany(context.Background(), "o1", map[string][]byte{
		"OrderStatus":   []byte(`{"id":1}`),
		"PendingEvents": []byte("[]"),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStateStoreRollsBackOnFailure(t *testing.T) {
	store, mock := setupGorm(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `order_process_state`").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := store.Set(context.Background(), "o1", "OrderStatus", []byte(`{"id":1}`))
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLConfigDSN(t *testing.T) {
	dsn := MySQLConfig{User: "root", Password: "p@ss", Host: "db:3306", DB: "ordering"}.DSN()
	assert.Contains(t, dsn, "root:p@ss@tcp(db:3306)/ordering")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}
