package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jspahr/packetlens/internal/client"
	"github.com/jspahr/packetlens/internal/reqlog"
	"github.com/jspahr/packetlens/internal/types"
)

type requestCommand struct {
	Method    string   `short:"X" long:"method" description:"HTTP method" default:"GET"`
	Headers   []string `short:"H" long:"header" description:"Request header in 'Name: Value' form (repeatable)"`
	Body      string   `short:"d" long:"data" description:"Request body"`
	Timeout   int      `short:"t" long:"timeout" description:"Request timeout in seconds" default:"30"`
	Redirects bool     `short:"L" long:"location" description:"Follow redirects"`
	Args      struct {
		URL string `positional-arg-name:"url" required:"yes" description:"Target URL"`
	} `positional-args:"yes"`
}

func (c *requestCommand) Execute(args []string) error {
	headers := make(map[string]string, len(c.Headers))
	for _, raw := range c.Headers {
		name, value, found := strings.Cut(raw, ":")
		if !found {
			return types.NewError(types.CodeInvalidInput, fmt.Sprintf("malformed header %q, expected 'Name: Value'", raw), nil)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	store := openCookieStore()
	httpClient := client.New(store)

	log, err := openRequestLog()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			slog.Warn("request log close failed", "error", closeErr)
		}
	}()

	resp, err := httpClient.Do(context.Background(), client.Request{
		Method:          c.Method,
		URL:             c.Args.URL,
		Headers:         headers,
		Body:            c.Body,
		TimeoutSeconds:  c.Timeout,
		FollowRedirects: c.Redirects,
	})
	if err != nil {
		return err
	}

	slog.Info("request completed",
		"method", c.Method, "url", c.Args.URL, "status", resp.Status,
		"ms", resp.ResponseTimeMs, "bytes", len(resp.Body), "cookies_received", len(resp.Cookies))

	captured := &types.CapturedRequest{
		Method:  strings.ToUpper(c.Method),
		URL:     c.Args.URL,
		Headers: types.NormalizeHeaders(headers),
		Body:    []byte(c.Body),
	}
	if err := log.Append(reqlog.NewEntry(captured, resp, reqlog.SourceManual)); err != nil {
		slog.Warn("request log append failed", "error", err)
	}
	if err := store.Save(); err != nil {
		slog.Warn("cookie save failed", "error", err)
	}

	fmt.Printf("Status: %d (%dms)\n", resp.Status, resp.ResponseTimeMs)
	if resp.FinalURL != c.Args.URL {
		fmt.Printf("Final URL: %s\n", resp.FinalURL)
	}
	names := make([]string, 0, len(resp.Headers))
	for name := range resp.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s: %s\n", name, resp.Headers[name])
	}
	fmt.Println()
	fmt.Println(resp.Body)
	return nil
}
