package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/tably/internal/config"
	"github.com/smallbiznis/tably/internal/migration"
	"github.com/smallbiznis/tably/internal/server"
	"github.com/smallbiznis/tably/pkg/db"
	"github.com/smallbiznis/tably/pkg/log"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
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
