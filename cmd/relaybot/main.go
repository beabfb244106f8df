package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "relaybot",
		Short: "Discord media relay bot",
		Long:  "relaybot watches Discord channels for media, compresses images and relays them to the configured upload API.",
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the bot and the health endpoint",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
