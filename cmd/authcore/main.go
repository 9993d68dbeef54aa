// authcore es el binario del núcleo de autenticación adaptativa:
// levanta el pipeline completo (riesgo, MFA, sesiones, rate limiting)
// y el servidor operacional de health y métricas.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/medvault/authcore/internal/app"
	"github.com/medvault/authcore/internal/config"
	"github.com/medvault/authcore/internal/observability/logger"
)

// version se inyecta en build con -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var (
		flagConfig  string
		flagEnvFile string
		flagMigrate bool
	)

	root := &cobra.Command{
		Use:     "authcore",
		Short:   "Núcleo de autenticación adaptativa",
		Version: version,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "config.yaml", "ruta del YAML de configuración")
	root.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "archivo .env a cargar (opcional)")

	loadConfig := func() (*config.Config, error) {
		_ = godotenv.Load(flagEnvFile)
		return config.Load(flagConfig)
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servicio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logger.Init(logger.Config{
				Env:         cfg.App.Env,
				Level:       cfg.Log.Level,
				ServiceName: "authcore",
				Version:     version,
			})
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, app.Options{Migrate: flagMigrate})
			if err != nil {
				return err
			}

			logger.L().Info("authcore iniciado",
				logger.Component("main"),
				logger.String("env", cfg.App.Env),
				logger.String("storage", cfg.Storage.Driver),
				logger.String("cache", cfg.Cache.Kind),
			)
			return a.Run(ctx)
		},
	}
	serveCmd.Flags().BoolVar(&flagMigrate, "migrate", false, "aplica el esquema antes de servir (solo postgres)")

	genKeyCmd := &cobra.Command{
		Use:   "gen-key",
		Short: "Genera una clave de 32 bytes en base64 (jwt o secretbox)",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return err
			}
			fmt.Println(base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Aplica el esquema de PostgreSQL y termina",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("migrate requiere storage.driver postgres (hay %q)", cfg.Storage.Driver)
			}
			store, err := app.OpenPostgres(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Migrate(cmd.Context())
		},
	}

	root.AddCommand(serveCmd, genKeyCmd, migrateCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
