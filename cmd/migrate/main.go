package main

import (
	"errors"
	"flag"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"gorm.io/gorm/logger"

	"darkpool-indexer/internal/store"
	"darkpool-indexer/pkg/config"
	"darkpool-indexer/pkg/database"
)

func main() {
	var (
		command string
		dir     string
		steps   int
	)
	flag.StringVar(&command, "cmd", "up", "Command to run: up, down, steps, version")
	flag.StringVar(&dir, "dir", "migrations", "Migration files directory")
	flag.IntVar(&steps, "n", 1, "Number of steps for -cmd steps (negative rolls back)")
	flag.Parse()

	// 加载配置
	config.Init()

	// SQL 文件面向 PostgreSQL；sqlite (本地开发) 直接用 AutoMigrate
	if config.Global.DB.Driver == "sqlite" {
		if command != "up" {
			log.Fatalf("sqlite only supports -cmd up")
		}
		db, err := database.ConnectSQLite(config.Global.DB.Path, logger.Warn)
		if err != nil {
			log.Fatalf("Open sqlite failed: %v", err)
		}
		if err := store.New(db).AutoMigrate(); err != nil {
			log.Fatalf("AutoMigrate failed: %v", err)
		}
		log.Println("Migration up done (sqlite AutoMigrate)")
		return
	}

	m, err := migrate.New("file://"+dir, config.Global.DB.MigrateURL())
	if err != nil {
		log.Fatalf("Migration init failed: %v", err)
	}
	defer m.Close()

	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("Migration up failed: %v", err)
		}
		log.Println("Migration up done")
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Println("Migration down done")
	case "steps":
		if err := m.Steps(steps); err != nil {
			log.Fatalf("Migration steps failed: %v", err)
		}
		log.Printf("Migration moved %d steps", steps)
	case "version":
		v, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			log.Fatalf("Read version failed: %v", err)
		}
		log.Printf("Schema version %d (dirty=%v)", v, dirty)
	default:
		log.Fatalf("Unknown command: %s", command)
	}
}
