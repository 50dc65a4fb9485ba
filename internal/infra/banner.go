package infra

import (
	"fmt"
	"io"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner writes the startup banner showing the active price source.
func PrintBanner(out io.Writer, cfg *Config, source string) {
	color := ColorGreen
	desc := "LIVE EXCHANGE RATES"

	switch strings.ToLower(source) {
	case "manual":
		color = ColorCyan
		desc = "USER-ENTERED RATES"
	case "synthetic":
		color = ColorYellow
		desc = "RANDOM RATES (DEVELOPMENT)"
	}

	line := func(format string, args ...any) {
		fmt.Fprintf(out, "%s"+format+"%s\n", append(append([]any{color}, args...), ColorReset)...)
	}

	fmt.Fprintln(out)
	line("###########################################################")
	line("#                                                         #")
	line("#                  ₿  Sats Price Converter                #")
	line("#                                                         #")
	line("#   SOURCE:   %-36s#", source)
	line("#   RATES:    %-36s#", desc)
	line("#   PRIMARY:  %-36s#", cfg.Price.PrimaryCurrency)
	line("#   VERSION:  %-36s#", cfg.App.Version)
	line("#                                                         #")
	if strings.EqualFold(source, "synthetic") {
		fmt.Fprintf(out, "%s#   ⚠️  PRICES ARE NOT REAL. DO NOT USE FOR DECISIONS ⚠️   #%s\n", ColorRed, ColorReset)
	}
	line("###########################################################")
	fmt.Fprintln(out)
}
