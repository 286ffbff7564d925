package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ayusman/faceenroll/internal/app"
	"github.com/ayusman/faceenroll/internal/server"
	"github.com/ayusman/faceenroll/internal/submit"
	"github.com/ayusman/faceenroll/internal/tray"
)

var trayCmd = &cobra.Command{
	Use:   "tray",
	Short: "Run from the system tray",
	Long: `Run the enrollment server with a system tray menu for starting,
cancelling and submitting a capture.`,
	Args: cobra.NoArgs,
	RunE: runTray,
}

func init() {
	rootCmd.AddCommand(trayCmd)
}

func runTray(cmd *cobra.Command, args []string) error {
	a, st, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(a, st)

	srv := server.New(server.Config{
		Enroller:  a,
		Events:    a,
		Camera:    a.Camera(),
		StaticDir: findWebDir(),
	})
	go func() {
		if err := srv.ListenAndServe(settings.Server.Addr); err != nil {
			log.WithError(err).Error("Server failed")
		}
	}()

	t := tray.New()
	unsubscribe := a.Subscribe(func(e app.Event) {
		if e.Transition != nil {
			t.Update(e.Transition.To, e.Transition.Samples, e.Transition.Target)
		} else if e.Frame != nil && e.Frame.Accepted {
			t.Update(t.State(), e.Frame.Samples, e.Frame.Target)
		}
	})
	defer unsubscribe()

	t.OnStart(func() {
		if _, err := a.StartEnrollment(0); err != nil {
			log.WithError(err).Warn(a.UserMessage(err))
		}
	})
	t.OnCancel(func() {
		a.CancelEnrollment()
	})
	t.OnSubmit(func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if _, err := a.SubmitEnrollment(ctx, submit.ModeRegister); err != nil {
				log.WithError(err).Warn(a.UserMessage(err))
			}
		}()
	})
	t.OnOpen(func() {
		if err := openBrowser("http://" + displayAddr(settings.Server.Addr)); err != nil {
			log.WithError(err).Warn("Could not open browser")
		}
	})
	t.OnQuit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	ctx, stop := signalContext()
	defer stop()
	go func() {
		<-ctx.Done()
		t.Quit()
	}()

	t.Run()
	return nil
}

func openBrowser(url string) error {
	var name string
	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "linux":
		name = "xdg-open"
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return errors.New("unsupported platform " + runtime.GOOS)
	}
	if err := exec.Command(name, url).Start(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
