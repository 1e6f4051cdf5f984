package main

import (
	"github.com/halcorn/halcorn/go/cmd"

	_ "github.com/halcorn/halcorn/go/cmd/rehost"

	_ "github.com/halcorn/halcorn/go/cmd/haltrace"
	_ "github.com/halcorn/halcorn/go/cmd/periph"
	_ "github.com/halcorn/halcorn/go/cmd/stats"
	_ "github.com/halcorn/halcorn/go/cmd/symtool"
)

func main() { cmd.Main() }
