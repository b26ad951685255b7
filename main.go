// File: main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import "github.com/momentics/hioload-reactor/cmd"

func main() {
	cmd.Execute()
}
