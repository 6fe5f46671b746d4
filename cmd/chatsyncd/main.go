package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/daemon"
	"github.com/matheus3301/chatsync/internal/paths"
	"go.uber.org/fx"
	"go.uber.org/zap/zapcore"
)

func main() {
	conversationFlag := flag.String("conversation", "", "conversation id (overrides config default)")
	configFlag := flag.String("config", "", "config file (default $CHATSYNC_HOME/config.toml)")
	debugFlag := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = paths.ConfigPath()
	}
	cfg, err := config.LoadEffective(configPath, paths.EnvPath(), ".env")
	if err != nil {
		fail(err)
	}
	if err := cfg.Validate(); err != nil {
		fail(err)
	}
	conversationID, err := paths.Resolve(*conversationFlag, cfg)
	if err != nil {
		fail(err)
	}

	level := zapcore.InfoLevel
	if *debugFlag {
		level = zapcore.DebugLevel
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			ConversationID: conversationID,
			Config:         cfg,
			LogLevel:       level,
		}),
	)

	app.Run()
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
