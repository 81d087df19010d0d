package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/webadmin-gateway/authbroker/internal/logging"
)

var (
	version = "0.1.0"
	cfgFile string
	addr    string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "authbrokerd",
	Short: "Web gateway authentication broker",
	Long:  `authbrokerd mediates browser logins for a web-based sysadmin gateway, handing off to a per-scheme login helper or an SSH transport and tracking the resulting session.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the broker's HTTP frontend",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("authbrokerd v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/authbroker/authbroker.ini)")
	serveCmd.Flags().StringVar(&addr, "listen", "127.0.0.1:9090", "address to listen on")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
