package env

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

var (
	loadOnce   sync.Once
	loadedPath string
	loadErr    error
)

// Ensure loads the first .env file found between the working directory and the
// filesystem root into the process environment. Later calls are no-ops.
func Ensure() error {
	// Unit tests stay hermetic: a developer-local .env is ignored under
	// `go test` unless GOTEST_LOAD_DOTENV=1 opts in.
	if underGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return nil
	}
	loadOnce.Do(func() {
		path, err := locateDotEnv()
		if err != nil {
			loadErr = err
			log.Debug().Err(err).Msg("pulsekeeper: search .env failed")
			return
		}
		if path == "" {
			return
		}
		if err := godotenv.Load(path); err != nil {
			loadErr = err
			log.Warn().Err(err).Str("dotenv", path).Msg("pulsekeeper: load .env failed")
			return
		}
		loadedPath = path
		log.Debug().Str("dotenv", path).Msg("pulsekeeper: loaded .env")
	})
	return loadErr
}

// LoadedPath returns the .env path Ensure loaded, or "" when none was found.
func LoadedPath() string {
	return loadedPath
}

func underGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

func locateDotEnv() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}
