package main

import (
	"testing"

	"vivarium/internal/config"

	"go.uber.org/zap"
)

func TestBuildLoggerHonorsLevel(t *testing.T) {
	debug, err := buildLogger("debug")
	if err != nil {
		t.Fatalf("buildLogger(debug): %v", err)
	}
	if !debug.Core().Enabled(zap.DebugLevel) {
		t.Fatal("debug level not enabled")
	}

	quiet, err := buildLogger("error")
	if err != nil {
		t.Fatalf("buildLogger(error): %v", err)
	}
	if quiet.Core().Enabled(zap.InfoLevel) {
		t.Fatal("info level unexpectedly enabled at error")
	}
}

func TestBuildReposMemoryDriver(t *testing.T) {
	t.Setenv("VIVARIUM_DB_DRIVER", "memory")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	repos, err := buildRepos(cfg)
	if err != nil {
		t.Fatalf("buildRepos: %v", err)
	}
	if repos.agents == nil || repos.events == nil || repos.clock == nil || repos.tx == nil {
		t.Fatal("memory driver left repos unwired")
	}
}

func TestBuildReposRejectsUnknownDriver(t *testing.T) {
	cfg := config.Config{}
	cfg.Storage.Driver = "etcd"
	if _, err := buildRepos(cfg); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
