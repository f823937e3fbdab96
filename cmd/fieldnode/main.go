// Command fieldnode runs a field node on a Linux host and inspects its
// measurement log.
package main

import (
	"os"

	logger "github.com/sirupsen/logrus"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		logger.WithError(err).Error("fieldnode failed")
		os.Exit(1)
	}
}
