package main

import (
	"fmt"
	"os"

	"github.com/dropDatabas3/linkbroker/internal/config"
	"github.com/dropDatabas3/linkbroker/internal/observability/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version se setea con -ldflags "-X main.version=..."
var version = "dev"

type rootFlags struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var rf rootFlags
	root := &cobra.Command{
		Use:           "linkbroker",
		Short:         "Broker de conexiones OAuth para cuentas de redes sociales y ads",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.PersistentFlags().StringVar(&rf.configPath, "config", os.Getenv("CONFIG_PATH"), "ruta a config.yaml (env CONFIG_PATH; vacío = solo env)")
	root.PersistentFlags().StringVar(&rf.envFile, "env-file", ".env", "ruta a .env (si existe, se carga)")

	root.AddCommand(newServeCmd(&rf), newConnectCmd(&rf), newPlatformsCmd())
	return root
}

// loadConfig carga .env, la config y arranca el logger.
func loadConfig(rf *rootFlags) (*config.Config, error) {
	if rf.envFile != "" {
		if err := godotenv.Load(rf.envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("dotenv %s: %w", rf.envFile, err)
		}
	}
	cfg, err := config.Load(rf.configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	env := "dev"
	if cfg.IsProd() {
		env = "prod"
	}
	logger.Init(logger.Config{
		Env:         env,
		Level:       cfg.Log.Level,
		ServiceName: "linkbroker",
		Version:     version,
	})
	return cfg, nil
}
