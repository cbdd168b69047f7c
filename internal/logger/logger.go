package logger

import (
	"fmt"
	"time"
)

// ANSI color codes for console output.
const (
	reset  = "\033[0m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
	gray   = "\033[90m"
	bold   = "\033[1m"
)

func stamp() string {
	return time.Now().Format("15:04:05")
}

func emit(color, level, tag, msg string) {
	fmt.Printf("%s%s%s %s%-5s%s %s[%s]%s %s\n",
		gray, stamp(), reset, color, level, reset, bold, tag, reset, msg)
}

// Info logs an informational message with a component tag.
func Info(tag, msg string) {
	emit(cyan, "INFO", tag, msg)
}

// Success logs a success message with a component tag.
func Success(tag, msg string) {
	emit(green, "OK", tag, msg)
}

// Warn logs a warning message with a component tag.
func Warn(tag, msg string) {
	emit(yellow, "WARN", tag, msg)
}

// Error logs an error message with a component tag.
func Error(tag, msg string) {
	emit(red, "ERROR", tag, msg)
}

// Banner prints the startup banner with the build version.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	fmt.Printf("%s%s\n", bold, cyan)
	fmt.Println(`  _____ _ _                         `)
	fmt.Println(` |  ___| (_)_ __  _ __   ___ _ __   `)
	fmt.Println(` | |_  | | | '_ \| '_ \ / _ \ '__|  `)
	fmt.Println(` |  _| | | | |_) | |_) |  __/ |     `)
	fmt.Println(` |_|   |_|_| .__/| .__/ \___|_|     `)
	fmt.Println(`           |_|   |_|                `)
	fmt.Printf("%s  Albion market flipper %s%s%s\n\n", reset, bold, version, reset)
}

// Section prints a section divider for grouped startup output.
func Section(name string) {
	fmt.Printf("\n%s── %s %s%s\n", bold, name, "──────────────────────", reset)
}

// Stats prints a key/value pair aligned for startup summaries.
func Stats(key string, value interface{}) {
	fmt.Printf("   %s%-24s%s %v\n", gray, key, reset, value)
}

// Server logs the listen address once the HTTP server is up.
func Server(addr string) {
	fmt.Printf("\n %s➜%s  Listening on %shttp://%s%s\n\n", green, reset, bold, addr, reset)
}
