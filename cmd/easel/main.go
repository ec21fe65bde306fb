// Command easel serves and manages versioned conversation canvases.
package main

import "github.com/mesh-intelligence/easel/internal/cli"

func main() {
	cli.Execute()
}
