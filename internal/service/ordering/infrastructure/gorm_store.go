// internal/service/ordering/infrastructure/gorm_store.go
package infrastructure

import (
	"context"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"eshop-ordering/internal/service/ordering/domain"
)

// ProcessStateModel 是 order_process_state 表的一行，(order_id, state_key) 为主键
type ProcessStateModel struct {
	OrderID   string    `gorm:"column:order_id;type:varchar(64);primaryKey"`
	StateKey  string    `gorm:"column:state_key;type:varchar(64);primaryKey"`
	Value     []byte    `gorm:"column:value;type:mediumblob"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (ProcessStateModel) TableName() string {
	return "order_process_state"
}

// MySQLConfig 是连接 MySQL 需要的最少配置
type MySQLConfig struct {
	User     string
	Password string
	Host     string
	DB       string
}

// DSN 交给 go-sql-driver 拼接，避免手写转义
func (c MySQLConfig) DSN() string {
	cfg := mysqldriver.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = c.Host
	cfg.DBName = c.DB
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// OpenMySQL 打开连接并自动建表
func OpenMySQL(c MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(c.DSN()), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	if err := db.AutoMigrate(&ProcessStateModel{}); err != nil {
		return nil, errors.Wrap(err, "migrate order_process_state")
	}
	return db, nil
}

// GormStateStore 是 StateStore 的 MySQL 实现
type GormStateStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStateStore(db *gorm.DB) *GormStateStore {
	return &GormStateStore{db: db, now: time.Now}
}

func (s *GormStateStore) Get(ctx context.Context, orderID, key string) ([]byte, error) {
	value, ok, err := s.TryGet(ctx, orderID, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "%s of order %s", key, orderID)
	}
	return value, nil
}

func (s *GormStateStore) TryGet(ctx context.Context, orderID, key string) ([]byte, bool, error) {
	var row ProcessStateModel
	err := s.db.WithContext(ctx).
		Where("order_id = ? AND state_key = ?", orderID, key).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "query %s of order %s", key, orderID)
	}
	return row.Value, true, nil
}

func (s *GormStateStore) Set(ctx context.Context, orderID, key string, value []byte) error {
	return s.SetMany(ctx, orderID, map[string][]byte{key: value})
}

// SetMany 在一个事务里 upsert 全部键
func (s *GormStateStore) SetMany(ctx context.Context, orderID string, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	now := s.now().UTC()
	rows := make([]ProcessStateModel, 0, len(values))
	for k, v := range values {
		rows = append(rows, ProcessStateModel{OrderID: orderID, StateKey: k, Value: v, UpdatedAt: now})
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}, {Name: "state_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&rows).Error
	})
	return errors.Wrapf(err, "save state of order %s", orderID)
}
