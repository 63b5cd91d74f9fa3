package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fibercal/fibercal/pkg/events"
	"github.com/fibercal/fibercal/pkg/types"
)

func NewCalibrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calibrate",
		Aliases: []string{"calibration", "cali"},
		Short:   "Run and monitor the temperature calibration procedure",
		GroupID: gCalibration,
		Long: `Run and monitor the multi-stage temperature calibration procedure.

Each stage heats with one current until the sensor voltage settles, then waits for you to measure the heater temperature with a pyrometer and report it with 'fibercal calibrate report'. The collected (current, voltage, temperature) measurements feed the estimation functions that make commands like 'fibercal heat-to' possible.`,
	}

	startCmd := &cobra.Command{
		Use:   "start [mA ...]",
		Short: "Start a calibration with the given heating currents",
		Long: `Start a calibration with the given heating currents, in mA.

Without arguments the daemon's configured default currents are used. The currents are sorted and deduplicated; a current above the configured maximum ends the procedure early.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			currents := make([]float64, 0, len(args))
			for _, a := range args {
				v, err := strconv.ParseFloat(a, 64)
				if err != nil {
					return fmt.Errorf("invalid heating current %q: %v", a, err)
				}
				currents = append(currents, v)
			}

			ret, err := apiClient.StartCalibration(currents)
			if err != nil {
				return fmt.Errorf("failed to start calibration: %w", err)
			}

			cmd.Println(ret)
			cmd.Println("Follow the procedure with 'fibercal calibrate watch' and answer temperature requests with 'fibercal calibrate report <°C>'.")
			return nil
		},
	}

	abortCmd := &cobra.Command{
		Use:   "abort",
		Short: "Abort the running calibration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := apiClient.AbortCalibration(); err != nil {
				return fmt.Errorf("failed to abort calibration: %w", err)
			}
			cmd.Println("Calibration aborted.")
			return nil
		},
	}

	progressCmd := &cobra.Command{
		Use:   "progress",
		Short: "Show progress of the running calibration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ep, err := apiClient.GetExtendedProgress()
			if err != nil {
				return fmt.Errorf("failed to fetch calibration progress: %w", err)
			}
			printExtendedProgress(cmd, ep)
			return nil
		},
	}

	reportCmd := &cobra.Command{
		Use:   "report <°C>",
		Short: "Report a measured temperature to the running calibration",
		Long: `Report a measured temperature, in °C, to the running calibration.

Use this to answer a pending temperature request: once a heating stage has settled, measure the heater's temperature with the pyrometer and report it here. The procedure then continues with the next stage.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			temperature, err := parseFloatArg(args, "temperature")
			if err != nil {
				return err
			}

			if _, err := apiClient.ReportTemperature(temperature); err != nil {
				return fmt.Errorf("failed to report temperature: %w", err)
			}

			cmd.Printf("Reported %g °C.\n", temperature)
			return nil
		},
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow calibration events until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ch, err := apiClient.Events(ctx)
			if err != nil {
				return err
			}

			cmd.Println("Watching events. Press Ctrl-C to stop.")
			for msg := range ch {
				printEvent(cmd, msg)
			}
			return nil
		},
	}

	cmd.AddCommand(startCmd, abortCmd, progressCmd, reportCmd, watchCmd)
	return cmd
}

func printExtendedProgress(cmd *cobra.Command, ep *types.ExtendedProgress) {
	cmd.Printf("State: %s\n", bold("%s", ep.State))
	cmd.Printf("Stage: %s of %s\n", bold("%d", ep.HeatingStageIndex+1), bold("%d", ep.HeatingStageCount))
	cmd.Printf("Stage progress: %s", bold("%.0f%%", ep.StageProgress*100))
	if ep.StageTimeLeftSecs != nil {
		cmd.Printf(", about %s left", bold("%s", roundSeconds(*ep.StageTimeLeftSecs)))
	}
	cmd.Println()
	cmd.Printf("Total progress: %s", bold("%.0f%%", ep.TotalProgress*100))
	if ep.TotalTimeLeftSecs != nil {
		cmd.Printf(", about %s left", bold("%s", roundSeconds(*ep.TotalTimeLeftSecs)))
	}
	cmd.Println()
}

func printEvent(cmd *cobra.Command, msg events.Message) {
	ts := time.Now().Format("15:04:05")
	switch msg.Name {
	case "calibration.temperature-requested":
		cmd.Printf("%s %s\n", ts, bold("temperature requested: measure the heater now and run 'fibercal calibrate report <°C>'"))
	case "calibration.over":
		payload, err := events.DecodeAs[types.CalibrationOverPayload](msg)
		if err != nil {
			cmd.Printf("%s %s\n", ts, msg.Name)
			return
		}
		cmd.Printf("%s calibration over: %s (unused currents: %v)\n", ts, bold("%s", payload.Status), payload.UnusedCurrents)
	default:
		if len(msg.Data) > 0 && string(msg.Data) != "null" {
			cmd.Printf("%s %s %s\n", ts, msg.Name, string(msg.Data))
		} else {
			cmd.Printf("%s %s\n", ts, msg.Name)
		}
	}
}

func roundSeconds(secs float64) time.Duration {
	return (time.Duration(secs) * time.Second).Round(time.Second)
}
