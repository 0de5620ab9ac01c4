package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homecare/internal/clock"
	"github.com/smallbiznis/homecare/internal/config"
	"github.com/smallbiznis/homecare/internal/migration"
	"github.com/smallbiznis/homecare/internal/observability"
	"github.com/smallbiznis/homecare/internal/scheduler"
	"github.com/smallbiznis/homecare/internal/server"
	"github.com/smallbiznis/homecare/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface and the domain modules behind it
		server.Module,

		// Background jobs
		scheduler.Module,
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
