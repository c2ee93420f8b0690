// @title Tinkerfai 后端 API
// @version 1.0
// @description Tinkerfai 数据科学学习平台的后端服务器。

// @host localhost:8000
// @BasePath /api
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization

package main

import (
	"flag"
	"log"
	"tinkerfai_backend/internal/app"
	"tinkerfai_backend/internal/config"
	"tinkerfai_backend/internal/util"
	"tinkerfai_backend/pkg/database"
	"tinkerfai_backend/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	// 命令行参数
	migrateOnly := flag.Bool("migrate-only", false, "只执行数据库迁移（store.driver=mysql），完成后退出")
	flag.Parse()

	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *migrateOnly {
		logger.InitLogger(cfg)
		defer logger.Log.Sync()
		if cfg.Store.Driver != util.StoreMySQL {
			log.Fatalf("migrate-only requires store driver %q, got %q", util.StoreMySQL, cfg.Store.Driver)
		}
		// InitDB 连接后自动迁移
		if _, err := database.InitDB(&cfg.Database); err != nil {
			logger.Log.Fatal("Database migration failed", zap.Error(err))
		}
		log.Println("数据库迁移完成，退出程序")
		return
	}

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	application.Run()
}
