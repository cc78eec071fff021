package logs

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/cube2222/udfbridge/config"
)

var Output io.WriteCloser = nopCloser{os.Stderr}

// InitializeFileLogger sends the standard logger, which operators and runtimes log to, into the cache directory.
// Foreign print output lands there too, keeping stdout for results.
func InitializeFileLogger() {
	path := filepath.Join(config.CacheDir, "logs.txt")
	if err := os.MkdirAll(config.CacheDir, 0755); err != nil {
		log.Fatalf("couldn't create %s directory: %s", config.CacheDir, err)
	}
	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("couldn't create logs file: %s", err)
	}
	Output = f
	log.SetOutput(Output)
}

func CloseLogger() {
	Output.Close()
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error {
	return nil
}
