package main

import (
	"os"

	"github.com/aceeric/imgfixture/pkg/imgfixture"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var (
	buildVer string = "SET BY MAKE FILE"
	buildDtm string = "SET BY MAKE FILE"
)

// bin/imgfixture create /tmp/images alpine --entrypoint '["sh", "-c"]'
func main() {
	logger := imgfixture.Logger()
	logger.SetOutput(os.Stderr)
	logger.Formatter = new(prefixed.TextFormatter)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
