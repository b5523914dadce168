package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ayusman/signavatar/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string
	var staticDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the WebSocket frame endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(addr) == "" {
				addr = cfg.Server.Addr
			}
			if strings.TrimSpace(staticDir) == "" {
				staticDir = cfg.Server.StaticDir
			}
			if staticDir == "" {
				staticDir = findWebDir(cfg.DataDir)
			}

			lock, err := ctx.lock()
			if err != nil {
				return err
			}
			defer lock.Unlock()

			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			pc, err := ctx.pipelineConfig(st)
			if err != nil {
				return err
			}
			poses, err := loadPoses(pc.Labels, st)
			if err != nil {
				return err
			}

			// Without a model the API stays up and reports why.
			model, modelErr := ctx.loadModel(pc)
			if modelErr != nil {
				logrus.WithError(modelErr).WithField("path", cfg.Model.Path).Error("Gesture pipeline disabled")
			} else {
				defer model.Close()
			}

			if staticDir != "" {
				logrus.WithField("dir", staticDir).Info("Serving static files")
			}

			srv := server.New(server.Config{
				StaticDir: staticDir,
				Store:     st,
				Model:     model,
				ModelErr:  modelErr,
				Pipeline:  pc,
				Poses:     poses,
				Logger:    logrus.StandardLogger(),
			})

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := srv.Run(runCtx, addr); err != nil {
				return err
			}
			logrus.Info("Server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default server.addr)")
	cmd.Flags().StringVar(&staticDir, "static", "", "Directory of static web files (default server.static_dir)")
	return cmd
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and <data dir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	candidates := []string{"web", "../web", "../../web"}
	if dataDir != "" {
		candidates = append(candidates, filepath.Join(dataDir, "web"))
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
