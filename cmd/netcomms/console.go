package main

import (
	"io"

	"github.com/fatih/color"
)

var (
	red   = color.New(color.FgRed).FprintfFunc()
	blue  = color.New(color.FgBlue).FprintfFunc()
	green = color.New(color.FgGreen).FprintfFunc()
)

// errorMsg prints an error message in red.
func errorMsg(w io.Writer, format string, a ...interface{}) {
	red(w, "[!] Error: "+format+"\n", a...)
}

// infoMsg prints an informational message in blue.
func infoMsg(w io.Writer, format string, a ...interface{}) {
	blue(w, "[+] "+format+"\n", a...)
}

// packetMsg prints a received packet in green.
func packetMsg(w io.Writer, format string, a ...interface{}) {
	green(w, "[<] "+format+"\n", a...)
}
