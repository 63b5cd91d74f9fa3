package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule",
		Short:   "Manage scheduled calibration runs",
		GroupID: gCalibration,
		Long: `Manage scheduled calibration runs.

The daemon can start calibrations on a cron schedule, using the configured default currents. A scheduled run is skipped while the system is locked, calibrating, or in safe mode.`,
	}

	setCmd := &cobra.Command{
		Use:   "set <cron>",
		Short: "Schedule calibrations with a cron expression",
		Long: `Schedule calibrations with a cron expression, e.g. '0 3 * * 0' for every Sunday at 03:00, or '@weekly'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ret, err := apiClient.SetSchedule(args[0])
			if err != nil {
				return fmt.Errorf("failed to set calibration schedule: %w", err)
			}
			cmd.Println(ret)
			return nil
		},
	}

	disableCmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable scheduled calibrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := apiClient.SetSchedule(""); err != nil {
				return fmt.Errorf("failed to disable calibration schedule: %w", err)
			}
			logrus.Info("calibration schedule disabled")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the calibration schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sched, err := apiClient.GetSchedule()
			if err != nil {
				return fmt.Errorf("failed to get calibration schedule: %w", err)
			}

			if sched.Cron == "" {
				cmd.Println("No calibration schedule set.")
				return nil
			}
			cmd.Printf("Schedule: %s\n", bold("%s", sched.Cron))
			if sched.NextRun != nil {
				cmd.Printf("Next run: %s (%s from now)\n",
					bold("%s", sched.NextRun.Format(time.DateTime)),
					time.Until(*sched.NextRun).Round(time.Second))
			}
			return nil
		},
	}

	postponeCmd := &cobra.Command{
		Use:   "postpone <duration>",
		Short: "Postpone the next scheduled calibration",
		Long:  `Postpone the next scheduled calibration by a duration such as '30m' or '2h'.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return fmt.Errorf("invalid duration: %v", err)
			}

			if _, err := apiClient.PostponeCalibration(d); err != nil {
				return fmt.Errorf("failed to postpone calibration: %w", err)
			}
			cmd.Printf("Next calibration postponed by %s.\n", d)
			return nil
		},
	}

	skipCmd := &cobra.Command{
		Use:   "skip",
		Short: "Skip the next scheduled calibration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := apiClient.SkipCalibration(); err != nil {
				return fmt.Errorf("failed to skip calibration: %w", err)
			}
			cmd.Println("Next calibration skipped.")
			return nil
		},
	}

	cmd.AddCommand(setCmd, disableCmd, statusCmd, postponeCmd, skipCmd)
	return cmd
}
