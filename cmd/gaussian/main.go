// Command gaussian is a demo model for calibrate. It reads mean, sigma and
// amplitude from the input file named on the command line and writes a
// sampled Gaussian to output.txt in the working directory.
package main

import (
	"fmt"
	"os"

	"github.com/deixis/calibrate/internal/gaussian"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Printf("%s: a demo code\n", os.Args[0])
		fmt.Printf("run as follows:\n$ %s <input.txt>\n  where <input.txt> is the name of the input file\n", os.Args[0])
		os.Exit(1)
	}
	if err := gaussian.Run(os.Args[1], ".", os.Stdout); err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
}
