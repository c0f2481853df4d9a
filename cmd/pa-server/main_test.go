package main

import (
	"testing"

	"github.com/priorauth/priorauth/internal/config"
)

func TestCommandTree(t *testing.T) {
	serve := serveCmd()
	if serve.Use != "serve" {
		t.Errorf("serve command Use = %q", serve.Use)
	}

	migrate := migrateCmd()
	if migrate.Use != "migrate" {
		t.Errorf("migrate command Use = %q", migrate.Use)
	}
	if migrate.PersistentFlags().Lookup("dir") == nil {
		t.Error("migrate command missing --dir flag")
	}
	names := map[string]bool{}
	for _, sub := range migrate.Commands() {
		names[sub.Use] = true
	}
	if !names["up"] || !names["status"] {
		t.Errorf("migrate subcommands = %v, want up and status", names)
	}
}

func TestNewLoggerModes(t *testing.T) {
	dev := newLogger(&config.Config{Env: "development"})
	prod := newLogger(&config.Config{Env: "production"})
	// Both must be usable; the dev logger writes console format.
	dev.Info().Msg("dev logger ok")
	prod.Info().Msg("prod logger ok")
}
