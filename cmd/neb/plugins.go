package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keepmind9/neb/internal/plugins"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List built-in plugins",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Built-in plugins:")
		for _, name := range plugins.Names() {
			fmt.Printf("  - %s\n", name)
		}
	},
}
