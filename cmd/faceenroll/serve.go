package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ayusman/faceenroll/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local enrollment server",
	Long: `Start the local HTTP server. It serves the camera preview, the enrollment
API and a WebSocket feed of enrollment events.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Address to listen on (overrides server.addr)")
	serveCmd.Flags().String("web", "", "Directory of static web files")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := mustGetString(cmd, "addr")
	if addr == "" {
		addr = settings.Server.Addr
	}
	webDir := mustGetString(cmd, "web")
	if webDir == "" {
		webDir = findWebDir()
	}

	ctx, stop := signalContext()
	defer stop()

	a, st, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(a, st)

	if webDir != "" {
		log.WithField("dir", webDir).Info("Serving static files")
	}

	srv := server.New(server.Config{
		Enroller:  a,
		Events:    a,
		Camera:    a.Camera(),
		StaticDir: webDir,
	})

	go func() {
		<-ctx.Done()
		fmt.Println("\nShutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Error during shutdown")
		}
	}()

	fmt.Printf("Face enrollment on http://%s\n", displayAddr(addr))
	fmt.Println("Press Ctrl+C to stop")

	if err := srv.ListenAndServe(addr); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}

func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

// findWebDir returns the first web directory found next to the working
// directory, or "".
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
