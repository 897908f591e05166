package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"veilpool/pkg/config"
	"veilpool/pkg/db"
	eventskafka "veilpool/pkg/events/kafka"
	"veilpool/pkg/health"
	"veilpool/pkg/logger"
	"veilpool/pkg/redis"
	"veilpool/pkg/server"
	"veilpool/pkg/settlement"
	"veilpool/pkg/task"
	"veilpool/services/proof"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		settlement.Module,
		eventskafka.Module,
		health.Module,
		fx.Provide(
			provideSnowflakeNode,
		),
		fx.Invoke(migrate),
		proof.Module,
		server.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&proof.Proof{}, &proof.ProofTransaction{})
}
