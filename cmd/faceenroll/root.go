package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ayusman/faceenroll/internal/app"
	"github.com/ayusman/faceenroll/internal/config"
	"github.com/ayusman/faceenroll/internal/store"
)

var (
	configPath string
	settings   *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "faceenroll",
	Short: "Capture and register face samples with a recognition service",
	Long: `faceenroll captures face samples from a local camera, checks each frame
for framing and image quality, and registers the accepted samples with a
remote face recognition service.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file (default ./faceenroll.yaml if present)")
}

func initConfig() error {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.ConfigureLogging()
	settings = cfg
	return nil
}

// openStore opens the attempt store, creating its directory.
func openStore() (*store.Store, error) {
	if dir := filepath.Dir(settings.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	return store.New(settings.Store.Path)
}

// openApp builds the application with its store. The caller closes both.
func openApp(cmd *cobra.Command) (*app.App, *store.Store, error) {
	st, err := openStore()
	if err != nil {
		log.WithError(err).Warn("Attempt history disabled")
		st = nil
	}

	a := app.New(settings, st)
	if err := a.Open(cmd.Context()); err != nil {
		if st != nil {
			st.Close()
		}
		return nil, nil, err
	}
	return a, st, nil
}

// closeApp releases the camera, the model and the store.
func closeApp(a *app.App, st *store.Store) {
	if err := a.Close(); err != nil {
		log.WithError(err).Warn("Shutdown incomplete")
	}
	if st != nil {
		st.Close()
	}
}
