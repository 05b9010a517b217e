package logflags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var regctx = false
var dynsize = false
var xfer = false
var native = false
var starlark = false
var dap = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

// RegisterContext returns true if register context operations
// (invalidation, cross-context copies, program counter changes) should be
// logged.
func RegisterContext() bool {
	return regctx
}

// RegisterContextLogger returns a logger for the register context layer.
func RegisterContextLogger() Logger {
	return makeFlaggableLogger(regctx, Fields{"layer": "regctx"})
}

// DynamicSize returns true if dynamic register size resolution should be
// logged.
func DynamicSize() bool {
	return dynsize
}

// DynamicSizeLogger returns a logger for dynamic register size resolution.
// Evaluator failures are always reported at error level.
func DynamicSizeLogger() Logger {
	return makeFlaggableLogger(dynsize, Fields{"layer": "regctx", "kind": "dynsize"})
}

// Transfer returns true if memory backed register transfers should be
// logged.
func Transfer() bool {
	return xfer
}

// TransferLogger returns a logger for memory backed register transfers.
func TransferLogger() Logger {
	return makeFlaggableLogger(xfer, Fields{"layer": "regctx", "kind": "xfer"})
}

// Native returns true if the ptrace register backend should log.
func Native() bool {
	return native
}

// NativeLogger returns a logger for the ptrace register backend.
func NativeLogger() Logger {
	return makeFlaggableLogger(native, Fields{"layer": "native"})
}

// Starlark returns true if starlark script execution should be logged.
func Starlark() bool {
	return starlark
}

// StarlarkLogger returns a logger for starlark script execution.
func StarlarkLogger() Logger {
	return makeFlaggableLogger(starlark, Fields{"layer": "starlark"})
}

// DAP returns true if the DAP server should log.
func DAP() bool {
	return dap
}

// DAPLogger returns a logger for the DAP server.
func DAPLogger() Logger {
	return makeFlaggableLogger(dap, Fields{"layer": "dap"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "delve-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "regctx"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		// If adding another value, do make sure to
		// update "Help about logging flags" in commands.go.
		switch logcmd {
		case "regctx":
			regctx = true
		case "dynsize":
			dynsize = true
		case "xfer":
			xfer = true
		case "native":
			native = true
		case "starlark":
			starlark = true
		case "dap":
			dap = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'regctx help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct {
}

var textFormatterInstance = &textFormatter{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	fmt.Fprintf(b, "%s %s ", entry.Time.Format("2006-01-02T15:04:05Z07:00"), strings.ToLower(entry.Level.String()))
	if layer, ok := entry.Data["layer"]; ok {
		fmt.Fprintf(b, "layer=%v ", layer)
	}
	for key, value := range entry.Data {
		if key == "layer" {
			continue
		}
		fmt.Fprintf(b, "%s=%v ", key, value)
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}
