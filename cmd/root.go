package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"pagecapture/logging"
)

// captureOptions holds the flags that are not plain configuration keys.
type captureOptions struct {
	configFile string
	url        string
	urls       []string
	name       string
}

// flagKeys maps command line flags onto configuration keys so they take
// precedence over the config file and the environment.
var flagKeys = map[string]string{
	"base-url":   "base_url",
	"pages":      "page_list",
	"sizes":      "page_sizes",
	"output":     "output.dir",
	"format":     "output.format",
	"headless":   "browser.headless",
	"buttons":    "buttons.labels",
	"hide-fixed": "normalize.hide_fixed_elements",
	"log-level":  "logger.level",
}

// NewRootCommand builds a fresh command tree. Running the root command
// performs a capture run.
func NewRootCommand() *cobra.Command {
	return newRootCmd(viper.New(), &captureOptions{})
}

func newRootCmd(v *viper.Viper, opts *captureOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "pagecapture",
		Short: "Captures full-page screenshots of web pages across viewport widths",
		Long: `pagecapture signs in to a web application when required and captures a
full-page screenshot of every page in the page list at every configured
viewport width, including an "auto" width sized to the page's content.`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindCaptureFlags(v, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCapture(cmd.Context(), v, opts)
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default is ./pagecapture.yaml)")

	flags := root.Flags()
	flags.StringVar(&opts.url, "url", "", "single URL to capture (overrides the page list)")
	flags.StringSliceVar(&opts.urls, "urls", nil, "comma-separated URLs to capture (overrides the page list)")
	flags.StringVar(&opts.name, "name", "", "name for the capture when using --url (defaults to one derived from the URL)")
	flags.String("base-url", "", "base URL relative page URLs are joined to")
	flags.String("pages", "", "page list file (JSON or YAML)")
	flags.StringSlice("sizes", nil, `viewport widths, e.g. "375,1440,auto"`)
	flags.StringP("output", "o", "", "output directory")
	flags.String("format", "", "image format: png or jpeg")
	flags.Bool("headless", true, "run Chrome headless")
	flags.StringSlice("buttons", nil, "button labels to click before capturing, in priority order")
	flags.Bool("hide-fixed", false, "hide fixed and sticky elements near the top before capturing")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newVersionCmd())
	return root
}

func bindCaptureFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs the root command with the given (signal-aware) context.
func Execute(ctx context.Context) error {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		logging.GetLogger().Error("Command execution failed", zap.Error(err))
		return err
	}
	return nil
}
