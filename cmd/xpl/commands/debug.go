package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/edgecli/xplnet/internal/ui"
	"github.com/edgecli/xplnet/internal/xpl"
)

// debugCmd is the parent command for debug subcommands
var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug and diagnostic commands",
	Long:  `Commands for debugging configuration and xPL messages.`,
}

// debugFlagsCmd prints resolved flag values for debugging
var debugFlagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "Print resolved flag values for debugging",
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		configPath, _ := cmd.Flags().GetString("config")
		logLevel, _ := cmd.Flags().GetString("log-level")
		noColor, _ := cmd.Flags().GetBool("no-color")

		fmt.Println("Resolved Flag Values:")
		fmt.Printf("  --verbose:   %v\n", verbose)
		fmt.Printf("  --config:    %q\n", configPath)
		fmt.Printf("  --log-level: %q\n", logLevel)
		fmt.Printf("  --no-color:  %v\n", noColor)
		return nil
	},
}

// debugConfigCmd prints the configuration after files, .env and flags
var debugConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, paths, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("# %s\n%s", paths.ConfigFile, data)
		if err := cfg.Validate(); err != nil {
			fmt.Println(ui.RenderError(err))
		}
		return nil
	},
}

// debugParseCmd validates a raw message read from a file or stdin
var debugParseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Parse and validate a raw xPL message",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		raw, err := io.ReadAll(io.LimitReader(r, xpl.MaxMessageSize+1))
		if err != nil {
			return err
		}
		if len(raw) > xpl.MaxMessageSize {
			return fmt.Errorf("message exceeds %d bytes", xpl.MaxMessageSize)
		}
		msg, err := xpl.Parse(raw)
		if err != nil {
			return err
		}
		fmt.Println(ui.RenderSuccess("valid"))
		fmt.Print(string(msg.Marshal()))
		return nil
	},
}

func init() {
	debugCmd.AddCommand(debugFlagsCmd)
	debugCmd.AddCommand(debugConfigCmd)
	debugCmd.AddCommand(debugParseCmd)
}
