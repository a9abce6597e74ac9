// Package web includes the static pages of the capture monitor.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"runtime"
	"strings"
)

//go:embed dist/*
var staticAssets embed.FS

// GetAssets returns the static assets. With CAPSEQ_MONITOR_DEV set, the
// pages are read from the source tree so they can be edited without a
// rebuild.
func GetAssets() http.FileSystem {
	if isDevelopmentMode() {
		_, file, _, ok := runtime.Caller(0)
		if !ok {
			panic("error getting path")
		}

		assetPath := path.Join(path.Dir(file), "dist")
		fmt.Fprintf(os.Stderr,
			"Monitor development mode, serving assets from %s\n", assetPath)

		return http.Dir(assetPath)
	}

	subFS, err := fs.Sub(staticAssets, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(subFS)
}

func isDevelopmentMode() bool {
	value, exist := os.LookupEnv("CAPSEQ_MONITOR_DEV")
	if !exist {
		return false
	}

	return strings.ToLower(value) == "true" || value == "1"
}
