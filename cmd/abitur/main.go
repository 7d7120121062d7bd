// Command abitur runs the admissions assistant Telegram bot.
package main

import (
	"os"

	"github.com/harun/abitur/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
