package logger

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Level is the minimum severity a logger writes.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[Level]string{
	DebugLevel: "debug",
	InfoLevel:  "info",
	WarnLevel:  "warn",
	ErrorLevel: "error",
}

// String returns the name ParseLevel accepts for l. Out-of-range values read
// as "info", the level they behave as.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return levelNames[InfoLevel]
}

// ParseLevel reads a level from configuration or a flag. Surrounding space is
// trimmed and case is ignored, so "  DEBUG" is DebugLevel. "warning" is
// accepted for WarnLevel. Anything unrecognised, including the empty string,
// is InfoLevel rather than an error: a typo in LOG_LEVEL never stops startup.
func ParseLevel(levelStr string) Level {
	name := strings.ToLower(strings.TrimSpace(levelStr))
	if name == "warning" {
		return WarnLevel
	}
	for level, candidate := range levelNames {
		if candidate == name {
			return level
		}
	}
	return InfoLevel
}

func (l Level) logrusLevel() logrus.Level {
	switch l {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
