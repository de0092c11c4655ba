package cmd

import (
	"fmt"
	"io"
)

const banner = `
   ____ _       _     _                          
  / ___| |_   _| |__ | |__   ___  _   _ ___  ___ 
 | |   | | | | | '_ \| '_ \ / _ \| | | / __|/ _ \
 | |___| | |_| | |_) | | | | (_) | |_| \__ \  __/
  \____|_|\__,_|_.__/|_| |_|\___/ \__,_|___/\___|
                                                 
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Tech Club Website - Version %s\x1b[0m\n\n", Version)
}
