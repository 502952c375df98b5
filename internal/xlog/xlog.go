// Package xlog provides a bracketed-component logger on top of the
// standard library, matching the "[Component] message" convention used
// throughout the rest of this module.
package xlog

import (
	"log"
	"os"
)

// Logger prefixes every line with a fixed component tag, e.g. "[stash]".
type Logger struct {
	tag string
	std *log.Logger
}

// New returns a Logger for the given component name.
func New(component string) *Logger {
	return &Logger{
		tag: "[" + component + "]",
		std: log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) Printf(format string, args ...interface{}) {
	l.std.Printf(l.tag+" "+format, args...)
}

func (l *Logger) Println(args ...interface{}) {
	all := make([]interface{}, 0, len(args)+1)
	all = append(all, l.tag)
	all = append(all, args...)
	l.std.Println(all...)
}
