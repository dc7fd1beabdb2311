package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/revittco/electrumlink/internal/config"
)

func cmdInit(args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cfg, args)

	db, err := openStore(ctx, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := config.SeedDefaultServers(ctx, db); err != nil {
		return fmt.Errorf("seed servers: %w", err)
	}
	fmt.Printf("Database ready: %s\n", cfg.DBDSN)

	// Create default config if not exists
	if _, err := os.Stat(cfg.ConfigFile); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(cfg.ConfigFile), 0o700); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err := os.WriteFile(cfg.ConfigFile, []byte(config.DefaultFile), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Config file created: %s\n", cfg.ConfigFile)
	} else {
		fmt.Printf("Config file already exists: %s\n", cfg.ConfigFile)
	}

	return nil
}
