package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fibercal/fibercal/pkg/config"
	"github.com/fibercal/fibercal/pkg/types"
)

type statusData struct {
	status *types.Status
	config *config.RawFileConfig
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	st, err := apiClient.GetStatus()
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return &statusData{
		status: st,
		config: conf,
	}, nil
}

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of the production system",
		Long:    `Get the system status, calibration state, and configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			st := data.status
			conf := config.NewFileFromConfig(data.config, "")

			cmd.Println(bold("System status:"))
			if st.Simulation {
				cmd.Println("  Device: " + bold("simulated"))
			} else {
				cmd.Println("  Device: " + bold("hardware"))
			}
			cmd.Printf("  Heating current: %s\n", bold("%.1f mA", st.HeatingCurrent))
			cmd.Printf("  Sensor voltage: %s\n", bold("%.3f V", st.TemperatureSensorVoltage))
			if st.Temperature != nil {
				cmd.Printf("  Temperature: %s\n", bold("%.0f °C", *st.Temperature))
			} else {
				cmd.Println("  Temperature: unknown (system is not calibrated)")
			}
			if st.TargetTemperature != nil {
				cmd.Printf("  Target temperature: %s\n", bold("%.0f °C", *st.TargetTemperature))
			}
			if st.HeaterPosition == st.HeaterTargetPosition {
				cmd.Printf("  Heater position: %s\n", bold("%.2f", st.HeaterPosition))
			} else {
				cmd.Printf("  Heater position: %s (moving towards %.2f)\n",
					bold("%.2f", st.HeaterPosition), st.HeaterTargetPosition)
			}
			cmd.Println("  Locked: " + bool2Text(st.Locked))
			if st.InSafeMode {
				cmd.Println("  Safe mode: " + color.New(color.Bold, color.FgRed).Sprint("ACTIVE"))
				cmd.Println("    A safety limit was exceeded. The heating current has been reduced.")
				cmd.Println("    Issue a new heating or idle command to leave safe mode.")
			}

			cmd.Println()

			cmd.Println(bold("Calibration:"))
			cmd.Println("  Calibrated: " + bool2Text(st.Calibrated))
			cmd.Printf("  Measurements: %s\n", bold("%d", st.Measurements))
			if st.BeingCalibrated {
				cmd.Printf("  Running: state %s, progress %s\n",
					bold("%s", st.CalibrationState), bold("%.0f%%", progressPercent(st)))
			}

			cmd.Println()

			cmd.Println(bold("Configuration:"))
			cmd.Printf("  Max heating current: %s\n", bold("%.1f mA", conf.MaxHeatingCurrent()))
			cmd.Printf("  Max safe sensor voltage: %s\n", bold("%.2f V", conf.MaxSafeTemperatureSensorVoltage()))
			cmd.Printf("  Max safe temperature: %s\n", bold("%.0f °C", conf.MaxSafeTemperature()))
			cmd.Printf("  Idle current: %s\n", bold("%.1f mA", conf.HeatingCurrentWhileIdle()))
			cmd.Printf("  Safe mode current: %s\n", bold("%.1f mA", conf.HeatingCurrentInSafeMode()))
			cmd.Printf("  Calibration currents: %s\n", bold("%v", conf.CalibrationCurrents()))
			if sched := conf.CalibrationSchedule(); sched != "" {
				cmd.Printf("  Calibration schedule: %s\n", bold("%s", sched))
			}
			cmd.Println("  Allow non-root users to access the daemon: " + bool2Text(conf.AllowNonRootAccess()))
			return nil
		},
	}
}

func progressPercent(st *types.Status) float64 {
	if st.CalibrationProgress == nil {
		return 0
	}
	return *st.CalibrationProgress * 100
}
