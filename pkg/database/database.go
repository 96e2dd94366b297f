package database

import (
	"fmt"
	"os"
	"path/filepath"
	"shorturl-analytics/internal/config"
	"shorturl-analytics/internal/model"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open 根据配置的驱动打开数据库连接并执行迁移
func Open(cfg config.DB, log *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		// 让驱动把唯一键冲突翻译成 gorm.ErrDuplicatedKey
		TranslateError: true,
		NowFunc:        utcNow,
		Logger:         newGormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Driver == "sqlite" {
		// sqlite 同一时间只允许一个写事务
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// 所有时间统一以 UTC 存储，sqlite 按字符串比较时间
func utcNow() time.Time { return time.Now().UTC() }

// Migrate 自动迁移表结构
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	if db.Dialector.Name() == "mysql" {
		return binaryCollateIdentifiers(db)
	}
	return nil
}

// 短码与别名区分大小写。MySQL 的默认排序规则忽略大小写，
// 需要把标识符列改为 utf8mb4_bin，sqlite 与 postgres 默认即区分大小写
var mysqlIdentifierColumns = []string{
	"ALTER TABLE `links` MODIFY `short_code` varchar(16) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL",
	"ALTER TABLE `links` MODIFY `custom_alias` varchar(50) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NULL",
	"ALTER TABLE `link_keys` MODIFY `key` varchar(64) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL",
}

func binaryCollateIdentifiers(db *gorm.DB) error {
	for _, stmt := range mysqlIdentifierColumns {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("设置标识符排序规则失败: %w", err)
		}
	}
	return nil
}

// OpenSQLiteMemory 打开独立的内存数据库，供测试使用
func OpenSQLiteMemory(name string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		NowFunc:        utcNow,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func dialectorFor(cfg config.DB) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "mysql":
		charset := cfg.Charset
		if charset == "" {
			charset = "utf8mb4"
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=UTC",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, charset)
		return mysql.Open(dsn), nil
	case "postgres":
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, sslMode)
		return postgres.Open(dsn), nil
	case "sqlite":
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("创建数据目录失败: %w", err)
			}
		}
		return sqlite.Open(cfg.Path + "?_busy_timeout=5000&_foreign_keys=on"), nil
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}
}
