package stacktrace

import (
	"fmt"
	"runtime"
	"strings"
)

// maxDepth bounds captured frames so a deeply recursive crash cannot
// balloon a report.
const maxDepth = 64

// Capture formats the calling goroutine's stack, one frame per two lines in
// the runtime's conventional layout (function, then tab-indented file:line).
// skip drops that many additional frames above Capture's caller; skip 0
// starts at the caller itself.
func Capture(skip int) []byte {
	callers := make([]uintptr, maxDepth)
	count := runtime.Callers(2+skip, callers)
	if count == 0 {
		return nil
	}

	var builder strings.Builder
	frames := runtime.CallersFrames(callers[:count])
	for {
		frame, more := frames.Next()
		if frame.Function != "" {
			fmt.Fprintf(&builder, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}

	return []byte(builder.String())
}

// FirstFrame returns a one-line "function (file:line)" summary of the
// innermost non-runtime frame in a stack produced by Capture. It returns
// an empty string when no such frame exists.
func FirstFrame(stack []byte) string {
	lines := strings.Split(strings.TrimSpace(string(stack)), "\n")
	for idx := 0; idx+1 < len(lines); idx += 2 {
		function := strings.TrimSpace(lines[idx])
		location := strings.TrimSpace(lines[idx+1])
		if function == "" || location == "" {
			continue
		}
		if strings.HasPrefix(function, "runtime.") {
			continue
		}

		return fmt.Sprintf("%s (%s)", function, location)
	}

	return ""
}
