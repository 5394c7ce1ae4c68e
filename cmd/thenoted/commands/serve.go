package commands

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/thenote/backend/pkg/config"
	"github.com/thenote/backend/pkg/hub"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backend daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		h, err := hub.New(cfg, logger)
		if err != nil {
			return err
		}
		defer h.Close()

		logger.Info("listening", "addr", cfg.Listen, "data_dir", cfg.DataDir)
		if err := http.ListenAndServe(cfg.Listen, h.Handler()); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd)
}
