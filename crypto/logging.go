package crypto

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// LoggerHelper carries the standard "package" and "function" fields so call
// sites only add what is specific to them.
type LoggerHelper struct {
	function string
	pkg      string
	fields   logrus.Fields
}

// NewLogger creates a logger helper scoped to pkg and function.
func NewLogger(pkg, function string) *LoggerHelper {
	return &LoggerHelper{
		function: function,
		pkg:      pkg,
		fields: logrus.Fields{
			"package":  pkg,
			"function": function,
		},
	}
}

// WithField adds a custom field.
func (l *LoggerHelper) WithField(key string, value interface{}) *LoggerHelper {
	l.fields[key] = value
	return l
}

// WithFields adds multiple custom fields.
func (l *LoggerHelper) WithFields(fields logrus.Fields) *LoggerHelper {
	for k, v := range fields {
		l.fields[k] = v
	}
	return l
}

// WithError records err together with the operation that produced it.
func (l *LoggerHelper) WithError(err error, operation string) *LoggerHelper {
	if err != nil {
		l.fields["error"] = err.Error()
	}
	l.fields["operation"] = operation
	return l
}

// Entry returns the underlying logrus entry.
func (l *LoggerHelper) Entry() *logrus.Entry {
	return logrus.WithFields(l.fields)
}

// Debug logs a debug message.
func (l *LoggerHelper) Debug(message string) { l.Entry().Debug(message) }

// Info logs an info message.
func (l *LoggerHelper) Info(message string) { l.Entry().Info(message) }

// Warn logs a warning message.
func (l *LoggerHelper) Warn(message string) { l.Entry().Warn(message) }

// Error logs an error message.
func (l *LoggerHelper) Error(message string) { l.Entry().Error(message) }

// SecureFieldHash creates a preview of sensitive data for logging.
// Only the first 8 bytes are shown.
func SecureFieldHash(data []byte, name string) logrus.Fields {
	preview := "nil"
	if len(data) > 0 {
		previewLen := 8
		if len(data) < previewLen {
			previewLen = len(data)
		}
		preview = fmt.Sprintf("%x", data[:previewLen])
		if len(data) > previewLen {
			preview += "..."
		}
	}

	return logrus.Fields{
		name + "_preview": preview,
		name + "_size":    len(data),
	}
}
