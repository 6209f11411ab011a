// Command postpilot logs in to Facebook, Instagram and X through a real
// browser and publishes posts.
package main

import (
	"os"

	"github.com/ibeckermayer/postpilot/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
