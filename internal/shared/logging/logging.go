package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileMaxSizeMB  = 100
	logFileMaxBackups = 5
	logFileMaxAgeDays = 28
)

// Setup points the standard logger at stdout and, when logFile is set, at a
// rolling file as well. The returned closer releases the file.
func Setup(logFile string) io.Closer {
	if logFile == "" {
		log.SetOutput(os.Stdout)
		return nopCloser{}
	}

	lWriter := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileMaxBackups,
		MaxAge:     logFileMaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, lWriter))
	log.Printf("Logging to %s", logFile)
	return lWriter
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
