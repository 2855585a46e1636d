// Command desktop-runner runs accessibility-driven GUI scenarios against a
// GNOME desktop.
package main

import "github.com/devicelab-dev/desktop-runner/pkg/cli"

func main() {
	cli.Execute()
}
