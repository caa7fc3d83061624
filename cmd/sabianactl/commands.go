package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zberg/go-sabiana/pkg/sabiana"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.sabianactl.yaml)")
	rootCmd.PersistentFlags().String("email", "", "Sabiana account email")
	rootCmd.PersistentFlags().String("password", "", "Sabiana account password")
	rootCmd.PersistentFlags().String("base-url", "", "override the backend API URL")
	rootCmd.PersistentFlags().String("stream-url", "", "override the event-stream URL")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	setCmd.Flags().String("mode", "", "operating mode: cooling, heating, fan, auto or off")
	setCmd.Flags().Float64("temp", 0, "target temperature in °C")
	setCmd.Flags().Float64("fan", 0, "fan speed 0.1-1.0, 0 for automatic")
	setCmd.Flags().Bool("night", false, "enable night mode")

	watchCmd.Flags().Duration("interval", 60*time.Second, "poll interval")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(watchCmd)
}

// newClient builds a library client from the resolved configuration.
func newClient(ctx context.Context, extra ...sabiana.ClientOption) (*sabiana.Client, error) {
	email := viper.GetString("email")
	password := viper.GetString("password")
	if email == "" || password == "" {
		return nil, errors.New("email and password are required (flags, config file or SABIANA_EMAIL/SABIANA_PASSWORD)")
	}

	var opts []sabiana.ClientOption
	if u := viper.GetString("base-url"); u != "" {
		opts = append(opts, sabiana.WithBaseURL(u))
	}
	if u := viper.GetString("stream-url"); u != "" {
		opts = append(opts, sabiana.WithStreamURL(u))
	}
	if viper.GetBool("verbose") {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		opts = append(opts, sabiana.WithLogger(logger))
	}
	opts = append(opts, extra...)

	return sabiana.New(ctx, email, password, opts...)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Verify credentials and print the session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd.Context(), sabiana.WithoutRealtime())
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.CheckAuth(cmd.Context()); err != nil {
			return err
		}
		fmt.Println(client.Token())
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices and their current state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd.Context(), sabiana.WithoutRealtime())
		if err != nil {
			return err
		}
		defer client.Close()

		for _, id := range client.DeviceIDs() {
			state, err := client.State(id)
			if err != nil {
				return err
			}
			printState(state)
		}
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set [device-id]",
	Short: "Push a new mode, temperature, fan speed or night setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd.Context(), sabiana.WithoutRealtime())
		if err != nil {
			return err
		}
		defer client.Close()

		deviceID := args[0]
		state, err := client.State(deviceID)
		if err != nil {
			return err
		}

		// Unset flags fall back to the device's current settings.
		command := sabiana.Command{
			Mode:        state.Mode,
			Temperature: state.TargetTemperature(),
			FanSpeed:    state.FanSpeed,
			Night:       state.Night,
		}
		if !state.On {
			command.Mode = sabiana.ModeOff
		}
		if cmd.Flags().Changed("mode") {
			mode, _ := cmd.Flags().GetString("mode")
			command.Mode = sabiana.Mode(mode)
		}
		if cmd.Flags().Changed("temp") {
			command.Temperature, _ = cmd.Flags().GetFloat64("temp")
		}
		if cmd.Flags().Changed("fan") {
			command.FanSpeed, _ = cmd.Flags().GetFloat64("fan")
		}
		if cmd.Flags().Changed("night") {
			command.Night, _ = cmd.Flags().GetBool("night")
		}

		if err := client.PushCommand(cmd.Context(), deviceID, command); err != nil {
			return err
		}
		fmt.Println("Command sent successfully.")
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live state changes for all devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		interval, _ := cmd.Flags().GetDuration("interval")

		updates := make(chan string, 16)
		for _, id := range client.DeviceIDs() {
			err := client.Subscribe(id, func() {
				if err := client.Refresh(context.Background(), id); err != nil {
					fmt.Fprintf(os.Stderr, "refresh %s: %v\n", id, err)
					return
				}
				updates <- id
			})
			if err != nil {
				return err
			}
		}

		fmt.Printf("Watching %d devices (poll every %s, Ctrl-C to stop)...\n", len(client.DeviceIDs()), interval)
		for _, id := range client.DeviceIDs() {
			state, err := client.State(id)
			if err != nil {
				return err
			}
			printState(state)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case id := <-updates:
				state, err := client.State(id)
				if err != nil {
					return err
				}
				printState(state)
			case <-ticker.C:
				for _, id := range client.DeviceIDs() {
					if err := client.Refresh(ctx, id); err != nil {
						fmt.Fprintf(os.Stderr, "refresh %s: %v\n", id, err)
						continue
					}
					state, err := client.State(id)
					if err != nil {
						return err
					}
					printState(state)
				}
			}
		}
	},
}

func printState(state sabiana.Device) {
	power := "OFF"
	if state.On {
		power = "ON"
	}
	fan := fmt.Sprintf("%.0f%%", state.FanSpeed*100)
	if state.FanAuto {
		fan = "auto"
	}
	night := ""
	if state.Night {
		night = ", night"
	}
	fmt.Printf("%s (%s): %s %s, current %.1f°C, target %.1f°C, fan %s%s\n",
		state.Name, state.ID, power, state.Mode, state.CurrentTemp, state.TargetTemperature(), fan, night)
}
