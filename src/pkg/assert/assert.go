package assert

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// Assert panics with the caller's location when condition is false.
// The optional args are a format string followed by its operands.
func Assert(condition bool, args ...any) {
	if condition {
		return
	}
	panic(failure(2, args...))
}

// Unreachable marks code paths that a valid state can never hit.
func Unreachable(args ...any) {
	panic(failure(2, args...))
}

func NoError(err error) {
	if err == nil {
		return
	}
	panic(failure(2, "expected no error, got: %v", err))
}

func failure(skip int, args ...any) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		file = "unknown"
		line = 0
	}
	filename := filepath.Base(file)

	if len(args) == 0 {
		return fmt.Sprintf("Assertion failed at %s:%d\n", filename, line)
	}

	format, isString := args[0].(string)
	if !isString {
		return fmt.Sprintf("Assertion failed: %v at %s:%d\n", args, filename, line)
	}

	return fmt.Sprintf(
		"Assertion failed: %s at %s:%d\n",
		fmt.Sprintf(format, args[1:]...),
		filename,
		line,
	)
}
