package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/kheap/internal/config"
	"github.com/joshuapare/kheap/internal/logger"
	"github.com/joshuapare/kheap/mm"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	jsonOut    bool
	noColor    bool
	configPath string
	logLevel   string
	logJSON    bool
	logFile    string

	// out is where command output goes; tests swap it for a buffer.
	out io.Writer = os.Stdout

	numbers = message.NewPrinter(language.English)
)

var rootCmd = &cobra.Command{
	Use:   "kheapctl",
	Short: "Inspect and exercise the kernel and user buddy heaps",
	Long: `kheapctl brings up the kernel's two buddy heaps from a memory layout
and lets you inspect them, replay allocation traces against them and run
concurrent stress workloads with invariant checking.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", "", "Layout file (default: $"+config.EnvLayout+" or board defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log to stderr at this level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log as JSON")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Append logs to this file instead of stderr")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

// setup configures logging and output styling before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	// Disable styling if we are not in a standard terminal, as control sequences would not work.
	if noColor || !isatty.IsTerminal(os.Stdout.Fd()) {
		pterm.DisableStyling()
	}

	if logLevel == "" && logFile == "" {
		return logger.Init(logger.Options{})
	}
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	return logger.Init(logger.Options{Enabled: true, JSON: logJSON, File: logFile, Level: level})
}

// loadLayout resolves the layout from --config, $KHEAP_CONFIG or the defaults.
func loadLayout() (config.Layout, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.FromEnv()
}

// openSystem brings up both heaps from the resolved layout.
func openSystem() (*mm.System, error) {
	layout, err := loadLayout()
	if err != nil {
		return nil, err
	}
	printVerbose("Kernel heap: base %#x, orders %d..%d\n", layout.Kernel.Base, layout.Kernel.MinOrder, layout.Kernel.MaxOrder)
	printVerbose("User heap:   base %#x, orders %d..%d\n", layout.User.Base, layout.User.MinOrder, layout.User.MaxOrder)
	return mm.New(layout)
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(out, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(out, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// printTable renders rows with a header line.
func printTable(data pterm.TableData) error {
	if quiet {
		return nil
	}
	s, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, s)
	return nil
}

// formatBytes renders a byte count with digit grouping.
func formatBytes(n int) string {
	return numbers.Sprintf("%d B", n)
}
