package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	opts := &options{}
	cmd := newCmd(opts, os.Stdin, os.Stdout, os.Stderr)
	cobra.CheckErr(cmd.Execute())
}
