package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/interviewcapture/internal/config"
)

const defaultConfigPath = "$HOME/.config/interviewcapture.yaml"

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "interviewcapture [token]",
	Short: "Record candidate interview answers on camera",
	Long: `interviewcapture runs a candidate interview session: it loads the
candidate's questions from the interview backend, records one video answer
per question from the local camera and microphone, and uploads each answer
for transcription.

When a token is provided, it acts as 'interviewcapture run [token]'.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)

		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Could not load .env file", "error", err)
		}

		// devices works without a config unless one is given explicitly
		if cmd.Name() == "devices" && cfgFile == "" {
			return nil
		}

		var err error
		cfg, err = loadConfig(cmd.Name() == "use" || cmd.Name() == "edit")
		return err
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return runCmd.RunE(cmd, args)
		}
		return cmd.Help()
	},
}

// loadConfig reads the selected profile. Without --config a missing default
// file falls back to built-in settings, unless the command needs the file.
func loadConfig(requireFile bool) (*config.Config, error) {
	explicit := cfgFile != ""
	if !explicit {
		cfgFile = os.ExpandEnv(defaultConfigPath)
	}

	if !explicit && !requireFile {
		if _, err := os.Stat(cfgFile); errors.Is(err, fs.ErrNotExist) {
			slog.Debug("No config file, using built-in defaults", "path", cfgFile)
			c := config.Default()
			if url := os.Getenv("INTERVIEWCAPTURE_BACKEND_URL"); url != "" {
				c.Backend.BaseURL = url
			}
			if err := config.Validate(c); err != nil {
				return nil, fmt.Errorf("invalid built-in config: %w", err)
			}
			return c, nil
		}
	}

	c, err := config.LoadWithProfile(cfgFile, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return c, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+defaultConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=ffmpeg output, 3=max tracing")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(configCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	case 1, 2, 3:
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(handler))

	if level >= 3 {
		os.Setenv("FFMPEG_LOGLEVEL", "debug")
	} else if level == 2 && os.Getenv("FFMPEG_LOGLEVEL") == "" {
		os.Setenv("FFMPEG_LOGLEVEL", "info")
	}
}
