package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayusman/faceenroll/internal/submit"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a face is registered",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the registered face",
	Args:  cobra.NoArgs,
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(deleteCmd)

	deleteCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := submit.New(settings.Submit)

	status, err := client.Status(cmd.Context())
	if err != nil {
		return errors.New(submit.UserMessage(err, client.Locale()))
	}

	if !status.IsRegistered {
		fmt.Println("No face registered")
		return nil
	}

	fmt.Printf("Registered:    yes\n")
	fmt.Printf("Embeddings:    %d\n", status.EmbeddingCount)
	if status.RegisteredAt != nil {
		fmt.Printf("Registered at: %s\n", status.RegisteredAt.Local().Format(time.DateTime))
	}
	if status.LastVerifiedAt != nil {
		fmt.Printf("Last verified: %s\n", status.LastVerifiedAt.Local().Format(time.DateTime))
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	if !mustGetBool(cmd, "yes") {
		fmt.Print("Delete the registered face? [y/N] ")
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted")
			return nil
		}
	}

	client := submit.New(settings.Submit)
	if err := client.Delete(cmd.Context()); err != nil {
		return errors.New(submit.UserMessage(err, client.Locale()))
	}

	fmt.Println("Face data deleted")
	return nil
}
