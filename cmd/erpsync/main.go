package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/erpsync/internal/classifier"
	"github.com/smallbiznis/erpsync/internal/clock"
	"github.com/smallbiznis/erpsync/internal/config"
	"github.com/smallbiznis/erpsync/internal/logger"
	"github.com/smallbiznis/erpsync/internal/migration"
	obsmetrics "github.com/smallbiznis/erpsync/internal/observability/metrics"
	"github.com/smallbiznis/erpsync/internal/orchestrator"
	"github.com/smallbiznis/erpsync/internal/scheduler"
	"github.com/smallbiznis/erpsync/internal/server"
	syncmodule "github.com/smallbiznis/erpsync/internal/sync"
	"github.com/smallbiznis/erpsync/internal/tenant"
	"github.com/smallbiznis/erpsync/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		obsmetrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		tenant.Module,
		syncmodule.Module,
		classifier.Module,
		orchestrator.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
