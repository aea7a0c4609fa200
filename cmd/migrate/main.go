package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/angelmondragon/loyalty-ledger/internal/app"
	"github.com/angelmondragon/loyalty-ledger/pkg/db"
	"github.com/angelmondragon/loyalty-ledger/pkg/migrate"
)

func main() {
	cmd := flag.String("cmd", "up", "migration command: up|down|status|redo|version|create|validate")
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	rt := app.Boot("migrate")
	ctx := rt.Logger.WithFields(context.Background(), map[string]any{
		"env": rt.Config.App.Env,
		"cmd": *cmd,
		"dir": *dir,
	})

	// create and validate only touch the filesystem.
	switch *cmd {
	case "create":
		if *name == "" {
			rt.Must(ctx, "create", errors.New("missing -name"))
		}
		path, err := migrate.CreateSQLMigration(*dir, *name)
		rt.Must(ctx, "create", err)
		fmt.Println("created migration:", path)
		return
	case "validate":
		rt.Must(ctx, "validate", migrate.ValidateDir(*dir))
		fmt.Println("migration validation passed")
		return
	}

	// no dev auto-migrate here; this binary is the migration path.
	client, err := db.New(ctx, rt.Config.DB, rt.Logger)
	rt.Must(ctx, "connect database", err)
	defer client.Close()

	sqlDB, err := client.DB().DB()
	rt.Must(ctx, "open sql database", err)

	switch *cmd {
	case "up", "down", "status", "redo":
		err = migrate.Run(ctx, sqlDB, *dir, *cmd)
	case "version":
		if *version == "" {
			err = errors.New("missing -version")
			break
		}
		err = migrate.MigrateToVersion(ctx, sqlDB, *dir, *version)
	default:
		err = fmt.Errorf("unknown -cmd value %q", *cmd)
	}
	rt.Must(ctx, "goose "+*cmd, err)
	rt.Logger.Info(ctx, "migrate finished")
}
