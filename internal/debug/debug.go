package debug

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (startup, faults, recovery)
	LevelLive    = 2 // Live info (moves started/converged/cancelled)
	LevelVerbose = 3 // Verbose (per-step angles, driver setup)
	LevelTrace   = 4 // Trace (I2C/GPIO, very low level)
)

var (
	level  int
	logger *log.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (startup, board faults, recovery)
// 2 = live info (moves started, converged, cancelled)
// 3 = verbose (per-step movement details)
// 4 = trace (raw I2C/GPIO operations)
func Init(debugLevel int) {
	level = debugLevel
	if level > LevelOff {
		logger = log.New(os.Stdout, "[ServoGo] ", log.LstdFlags|log.Lmicroseconds)
	}
}

// SetOutput redirects all debug output, e.g. to tee into the SSE broadcaster.
func SetOutput(w io.Writer) {
	if logger != nil {
		logger.SetOutput(w)
	}
}

// Level returns the current debug level.
func Level() int {
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return level >= minLevel
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO] "+format, args...)
	}
}

// Warn prints a level 1 warning (bus faults, best-effort teardown failures).
func Warn(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[WARN] "+format, args...)
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO]   %s = %v", name, value)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] "+format, args...)
	}
}

// Move prints the start of a channel move (level 2).
func Move(channel int, target, speed float64) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] Channel %d: moving to %.1f deg at %.0f deg/s", channel, target, speed)
	}
}

// Converged prints the end of a channel move (level 2).
func Converged(channel int, angle float64) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] Channel %d: converged at %.1f deg", channel, angle)
	}
}

// --- Level 3 functions (Verbose) ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] "+format, args...)
	}
}

// Step prints one paced movement step (level 3).
func Step(channel int, angle float64, duty int) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] Channel %d: step to %.2f deg (duty %d)", channel, angle, duty)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace).
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[TRACE] "+format, args...)
	}
}

// Bus prints an I2C bus operation (level 4).
func Bus(operation string, addr uint16, args ...interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[I2C] %s addr=0x%02X args=%v", operation, addr, args)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[GPIO] %s pin=%d value=%v", operation, pin, value)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[ERROR] %v", err)
	}
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if level > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
