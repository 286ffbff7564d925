package main

import (
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ayusman/faceenroll/internal/app"
	"github.com/ayusman/faceenroll/internal/enroll"
	"github.com/ayusman/faceenroll/internal/submit"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Capture face samples and register them",
	Long: `Capture face samples from the camera until the target is reached, then
register them with the recognition service.

Use --mode replace or --mode append to update an existing registration.
Press Ctrl+C to cancel.`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().IntP("target", "t", 0, "Number of samples to capture, 5 to 10 (default from config)")
	enrollCmd.Flags().StringP("mode", "m", "", "Update an existing registration: replace or append")
	enrollCmd.Flags().Bool("dry-run", false, "Capture samples without submitting them")
	enrollCmd.Flags().Bool("hints", true, "Print guidance for rejected frames")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	target := mustGetInt(cmd, "target")
	mode := submit.Mode(mustGetString(cmd, "mode"))
	dryRun := mustGetBool(cmd, "dry-run")
	hints := mustGetBool(cmd, "hints")

	switch mode {
	case submit.ModeRegister, submit.ModeReplace, submit.ModeAppend:
	default:
		return fmt.Errorf("--mode must be replace or append, got %q", mode)
	}

	ctx, stop := signalContext()
	defer stop()

	a, st, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(a, st)

	o, err := a.StartEnrollment(target)
	if err != nil {
		return errors.New(a.UserMessage(err))
	}

	bar := progressbar.NewOptions(o.Target(),
		progressbar.OptionSetDescription("Capturing"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("samples"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	lastHint := ""
	unsubscribe := a.Subscribe(func(e app.Event) {
		if e.Frame == nil {
			return
		}
		if e.Frame.Accepted {
			bar.Set(e.Frame.Samples)
			lastHint = ""
			return
		}
		if hints && e.Message != "" && e.Message != lastHint {
			lastHint = e.Message
			bar.Describe(e.Message)
		}
	})
	defer unsubscribe()

	state, err := o.Wait(ctx)
	if err != nil {
		a.CancelEnrollment()
		fmt.Println()
		return errors.New("enrollment cancelled")
	}
	bar.Finish()
	fmt.Println()

	if state != enroll.StateReady {
		return errors.New(a.UserMessage(o.Err()))
	}

	log.WithFields(log.Fields{
		"session": o.SessionID(),
		"samples": o.SampleCount(),
	}).Info("Capture complete")

	if review := o.Review(); review != nil && !review.Valid {
		fmt.Printf("Warning: the captured set looks weak (%v); consider recapturing\n", review.Issues)
	}

	if dryRun {
		fmt.Printf("Captured %d samples (not submitted)\n", o.SampleCount())
		a.CancelEnrollment()
		return nil
	}

	fmt.Println("Submitting...")
	outcome, err := a.SubmitEnrollment(ctx, mode)
	if err != nil {
		return errors.New(a.UserMessage(err))
	}

	fmt.Println(outcome.Message)
	for _, w := range outcome.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	return nil
}
