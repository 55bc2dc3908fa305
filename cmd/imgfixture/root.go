package main

import (
	"fmt"

	"github.com/aceeric/imgfixture/pkg/imgfixture"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "imgfixture",
	Short: "Builds synthetic image tarballs for tests",
	Long: `The imgfixture utility builds a single-layer image tarball in the legacy
'docker save' format. The layer holds a minimal root filesystem copied from
the host, and the image config carries a caller supplied entrypoint, cmd and
environment. The tarball can be imported by a container runtime without any
network access.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			imgfixture.Logger().SetLevel(logrus.DebugLevel)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Shows the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("imgfixture version: %s build date: %s\n", buildVer, buildDtm)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every build step")
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(versionCmd)
}
