// Command listingprobe runs the listing extractor outside the bot, for
// selector maintenance.
//
// Usage:
//
//	listingprobe -url https://www.facebook.com/marketplace/item/123/
//	listingprobe -html saved.html            # extract from a saved page
//	listingprobe -mcp                        # serve listing_extract over stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/igaboo/mark/browser"
	"github.com/igaboo/mark/config"
	"github.com/igaboo/mark/listing"
	"github.com/igaboo/mark/observability"
)

func main() {
	configPath := flag.String("config", "", "path to mark.yaml (optional)")
	url := flag.String("url", "", "listing URL to extract with the live browser")
	htmlPath := flag.String("html", "", "saved listing page to extract instead of browsing")
	serveMCP := flag.Bool("mcp", false, "serve the listing_extract tool over stdio")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate(false)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "listingprobe:", err)
		os.Exit(2)
	}
	// stdout carries results; logs go to stderr only.
	logger, _, err := observability.NewLogger(observability.LogConfig{Level: cfg.Log.Level, Console: os.Stderr})
	if err != nil {
		fmt.Fprintln(os.Stderr, "listingprobe:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, *url, *htmlPath, *serveMCP); err != nil {
		logger.Error("listingprobe: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, url, htmlPath string, serveMCP bool) error {
	var launcher browser.Launcher
	if htmlPath != "" {
		l, err := browser.LoadStaticFile(htmlPath)
		if err != nil {
			return err
		}
		launcher = l
		if url == "" {
			url = "file://" + htmlPath
		}
	} else {
		bc := cfg.BrowserLaunch()
		bc.Logger = logger
		l, err := browser.New(bc)
		if err != nil {
			return err
		}
		launcher = l
	}

	builder := listing.NewBuilder(launcher,
		listing.WithLocators(cfg.Locators()),
		listing.WithFieldTimeout(cfg.Extraction.FieldTimeout),
		listing.WithLogger(logger),
	)

	if serveMCP {
		srv := mcp.NewServer(&mcp.Implementation{Name: "listingprobe", Version: "1.0.0"}, nil)
		listing.RegisterMCP(srv, builder)
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	if url == "" {
		fmt.Fprintln(os.Stderr, "usage: listingprobe -url <listing> | -html <file> | -mcp")
		os.Exit(2)
	}

	rec, err := builder.Build(ctx, url)
	if err != nil {
		var f *listing.Failure
		if errors.As(err, &f) {
			return fmt.Errorf("%s: %w", f.Reason, err)
		}
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		listing.Record
		HasKeyFields bool `json:"has_key_fields"`
	}{rec, rec.HasKeyFields()})
}
