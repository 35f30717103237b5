package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/termcam/host/internal/server"
)

// fontsLocal lists families without a running host. Tests replace it.
var fontsLocal = func(ctx context.Context, configPath string) ([]string, error) {
	cfg, err := loadStartConfig(&StartConfig{Config: configPath}, nil)
	if err != nil {
		return nil, err
	}
	class, err := doctorDetect(cfg.InstallEnvironment)
	if err != nil {
		return nil, err
	}
	_, tc, err := doctorProbe(ctx, class, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	return doctorFamilies(ctx, tc), nil
}

func runFonts(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "install" {
		return runFontsInstall(args[1:], stdout, stderr)
	}

	fs := flag.NewFlagSet("fonts", flag.ContinueOnError)
	fs.SetOutput(stderr)

	addr := fs.String("addr", "", "Host address (default: addr from config)")
	configPath := fs.String("config", "", "Path to config file (default: ~/.termcam/config.toml)")
	local := fs.Bool("local", false, "Query fontconfig directly instead of the running host")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: termcam fonts [options]\n       termcam fonts install [options] <url>...\n\nList font families usable in a device's font setting.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	var families []string
	if !*local {
		client, err := newAPIClient(*addr, *configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		client.http = defaultHTTPClient()

		var resp server.FontsResponse
		if err := client.do(http.MethodGet, "/api/fonts", nil, &resp); err == nil {
			families = resp.Families
		} else {
			fmt.Fprintf(stderr, "Host unavailable (%v); querying fontconfig directly.\n", err)
		}
	}

	if families == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var err error
		families, err = fontsLocal(ctx, *configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	if *jsonOutput {
		return writeJSONOutput(stdout, stderr, server.FontsResponse{Families: families})
	}
	for _, f := range families {
		fmt.Fprintln(stdout, f)
	}
	return 0
}

// runFontsInstall asks the running host to download and validate fonts.
func runFontsInstall(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fonts install", flag.ContinueOnError)
	fs.SetOutput(stderr)

	addr := fs.String("addr", "", "Host address (default: addr from config)")
	configPath := fs.String("config", "", "Path to config file (default: ~/.termcam/config.toml)")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: termcam fonts install [options] <url>...\n\nDownload font files into the host's font directory.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 1
	}

	client, err := newAPIClient(*addr, *configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var resp server.FontInstallResponse
	if err := client.do(http.MethodPost, "/api/fonts", server.FontInstallRequest{URLs: fs.Args()}, &resp); err != nil {
		printError(stderr, err)
		return 1
	}

	if *jsonOutput {
		return writeJSONOutput(stdout, stderr, resp)
	}
	failed := 0
	for _, r := range resp.Results {
		switch {
		case r.Error != "":
			failed++
			fmt.Fprintf(stdout, "FAIL  %s: %s\n", r.URL, r.Error)
		default:
			fmt.Fprintf(stdout, "OK    %s -> %s\n", r.URL, r.Path)
		}
	}
	if failed > 0 {
		return 1
	}
	return 0
}
