package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// One-shot commands: build a client, run a single operation, print the
// result. Useful for checking credentials without running the daemon.

const oneShotTimeout = 2 * time.Minute

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current panel state",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg.Log)
		client, err := newClient(cfg, log)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), oneShotTimeout)
		defer cancel()

		st, err := client.Status(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}

var armCmd = &cobra.Command{
	Use:       "arm [home|away]",
	Short:     "Arm the panel",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"home", "away"},
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg.Log)
		client, err := newClient(cfg, log)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), oneShotTimeout)
		defer cancel()

		mode := "away"
		if len(args) == 1 {
			mode = args[0]
		}
		if mode == "home" {
			err = client.ArmHome(ctx)
		} else {
			err = client.ArmAway(ctx)
		}
		if err != nil {
			return err
		}
		fmt.Printf("panel armed (%s)\n", mode)
		return nil
	},
}

var disarmCmd = &cobra.Command{
	Use:   "disarm",
	Short: "Disarm the panel",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg.Log)
		client, err := newClient(cfg, log)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), oneShotTimeout)
		defer cancel()

		if err := client.Disarm(ctx); err != nil {
			return err
		}
		fmt.Println("panel disarmed")
		return nil
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream <serial>",
	Short: "Fetch a short-lived camera stream URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg.Log)
		client, err := newClient(cfg, log)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), oneShotTimeout)
		defer cancel()

		url, err := client.StreamURL(ctx, args[0])
		if err != nil {
			return err
		}
		if url == "" {
			fmt.Println("no stream available for this backend")
			return nil
		}
		fmt.Println(url)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, armCmd, disarmCmd, streamCmd)
}
