package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keepmind9/neb/internal/core"
)

var initFile string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Write a starter configuration file with the b64 and time plugins
enabled. The access token is read from $NEB_TOKEN at load time. An existing
file is never overwritten.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := core.WriteConfig(initFile, core.StarterConfig()); err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Wrote %s\n", initFile)
		fmt.Println("  Edit url, user and admins, then export NEB_TOKEN and run: neb start -c " + initFile)
	},
}

func init() {
	initCmd.Flags().StringVarP(&initFile, "config", "c", "neb.yaml", "Configuration file path")
}
