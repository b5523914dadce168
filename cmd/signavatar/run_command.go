package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/signavatar/internal/app"
	"github.com/ayusman/signavatar/internal/capture"
	"github.com/ayusman/signavatar/internal/detector"
	"github.com/ayusman/signavatar/internal/pose"
	"github.com/ayusman/signavatar/internal/tray"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var sourceFlag string
	var fps int
	var withTray bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Recognize signs from a local camera or video file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(sourceFlag) == "" {
				sourceFlag = cfg.Capture.Source
			}
			if fps <= 0 {
				fps = cfg.Capture.FPS
			}
			source, err := capture.ParseSource(sourceFlag)
			if err != nil {
				return err
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
			model, err := ctx.loadModel(pc)
			if err != nil {
				return err
			}
			defer model.Close()

			det, err := detector.NewMediaPipeDetector(detector.Config{
				MinConfidence:   cfg.Detector.MinConfidence,
				MinTrackingConf: cfg.Detector.MinTrackingConf,
				Script:          cfg.Detector.Script,
				Python:          cfg.Detector.Python,
			})
			if err != nil {
				return fmt.Errorf("landmark detector: %w", err)
			}
			defer det.Close()

			var tr *tray.Tray
			out := cmd.OutOrStdout()
			a, err := app.New(app.Config{
				Camera:   capture.NewCamera(source),
				Detector: det,
				Model:    model,
				Pipeline: pc,
				Poses:    poses,
				Store:    st,
				FPS:      fps,
				Logger:   logrus.StandardLogger(),
				OnUpdate: func(u pose.Update) {
					if tr != nil {
						tr.SetLastSign(u.Label)
					}
					if u.Label != "" {
						fmt.Fprintf(out, "%s\t%.2f\n", u.Label, u.Confidence)
					}
				},
			})
			if err != nil {
				return err
			}
			if err := a.LoadSettings(); err != nil {
				return err
			}
			logrus.WithField("source", source.String()).Info("Starting capture")

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !withTray {
				return a.Run(runCtx)
			}

			tr = tray.New(a.IsEnabled())
			tr.OnToggle(a.SetEnabled)
			tr.OnReset(func() { a.Reset() })
			tr.OnQuit(stop)

			// The tray owns the main thread; capture runs beside it.
			g, gctx := errgroup.WithContext(runCtx)
			g.Go(func() error {
				defer tr.Quit()
				return a.Run(gctx)
			})
			tr.Run()
			stop()
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&sourceFlag, "source", "", "Camera device ID or video file (default capture.source)")
	cmd.Flags().IntVar(&fps, "fps", 0, "Capture rate (default capture.fps)")
	cmd.Flags().BoolVar(&withTray, "tray", false, "Show a system tray menu")
	return cmd
}
