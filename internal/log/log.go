/*
 * This file is part of privtracker.
 *
 * privtracker is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * privtracker is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with privtracker.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package log provides the process-wide leveled loggers used by every
// subsystem. Background jobs log through these rather than returning errors
// to a caller; request handlers translate errors into wire responses instead
// of logging them on the hot path.
package log

import (
	"log"
	"os"
	"runtime/debug"
)

var flags = log.Ldate | log.Ltime | log.LUTC | log.Lmsgprefix

var (
	Verbose = log.New(os.Stdout, "[V] ", flags)
	Info    = log.New(os.Stdout, "[I] ", flags)
	Warning = log.New(os.Stderr, "[W] ", flags)
	Error   = log.New(os.Stderr, "[E] ", flags)
	Fatal   = log.New(os.Stderr, "[F] ", flags)
	Panic   = log.New(os.Stderr, "[P] ", flags)
)

// WriteStack dumps the current goroutine's stack to stderr. Called after
// logging an unexpected error so operators get a trace without crashing the
// process.
func WriteStack() {
	debug.PrintStack()
}
