// plush-lsp serves the Language Server Protocol for plush sources on stdio.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chazu/plush/manifest"
	"github.com/chazu/plush/server"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

const version = "0.1.0"

func main() {
	verbose := flag.Bool("v", false, "Verbose output (debug logging, every LSP message)")
	logPath := flag.String("log", "", "Write logs to this file instead of stderr")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: plush-lsp [options]\n\n")
		fmt.Fprintf(os.Stderr, "Serves the Language Server Protocol on stdin/stdout.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", manifest.FileName, err)
		os.Exit(1)
	}

	verbosity := m.Log.Verbosity
	if *verbose {
		verbosity = 2
	}
	path := m.Log.Path
	if *logPath != "" {
		path = *logPath
	}
	if path == "" {
		commonlog.Configure(verbosity, nil)
	} else {
		commonlog.Configure(verbosity, &path)
	}

	lsp := server.NewLSP(server.Options{
		VM:      m.VMOptions(),
		Version: version,
		Debug:   *verbose,
	})
	if err := lsp.Run(); err != nil {
		commonlog.GetLogger("plush.cmd").Error("language server stopped", "error", err)
		os.Exit(1)
	}
}
