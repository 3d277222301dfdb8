package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/jspahr/packetlens/internal/cookie"
)

func registerCookieCommands(parser *flags.Parser) {
	cmd, err := parser.AddCommand("cookie", "Manage the cookie store",
		"List, add, clean or clear stored cookies.", &struct{}{})
	if err != nil {
		slog.Error("command registration failed", "command", "cookie", "error", err)
		return
	}

	sub := func(name, short, long string, data interface{}) {
		if _, err := cmd.AddCommand(name, short, long, data); err != nil {
			slog.Error("command registration failed", "command", "cookie "+name, "error", err)
		}
	}
	sub("list", "List stored cookies", "Print stored cookies, optionally filtered by domain.", &cookieListCommand{})
	sub("add", "Add a cookie", "Insert or overwrite one cookie in the store.", &cookieAddCommand{})
	sub("clean", "Remove expired cookies", "Drop all expired cookies from the store.", &cookieCleanCommand{})
	sub("clear", "Remove all cookies", "Empty the cookie store.", &cookieClearCommand{})
}

type cookieListCommand struct {
	Domain string `short:"d" long:"domain" description:"Only show cookies whose domain contains this substring"`
}

func (c *cookieListCommand) Execute(args []string) error {
	store := openCookieStore()
	entries := store.List(c.Domain)
	if len(entries) == 0 {
		fmt.Println("No cookies stored")
		return nil
	}
	for _, e := range entries {
		expires := "session"
		if e.Expires != nil {
			expires = time.Unix(*e.Expires, 0).UTC().Format(time.RFC3339)
		}
		fmt.Printf("%s=%s  domain=%s path=%s secure=%t http_only=%t expires=%s\n",
			e.Name, e.Value, e.Domain, e.Path, e.Secure, e.HTTPOnly, expires)
	}
	fmt.Printf("%d cookie(s)\n", len(entries))
	return nil
}

type cookieAddCommand struct {
	Domain   string `short:"d" long:"domain" description:"Cookie domain" required:"yes"`
	Path     string `short:"p" long:"path" description:"Cookie path" default:"/"`
	Secure   bool   `long:"secure" description:"Only send over HTTPS"`
	HTTPOnly bool   `long:"http-only" description:"Mark the cookie HttpOnly"`
	MaxAge   int64  `long:"max-age" description:"Lifetime in seconds (0 for a session cookie)"`
	Args     struct {
		Name  string `positional-arg-name:"name" required:"yes"`
		Value string `positional-arg-name:"value" required:"yes"`
	} `positional-args:"yes"`
}

func (c *cookieAddCommand) Execute(args []string) error {
	store := openCookieStore()

	entry := cookie.Entry{
		Name:     c.Args.Name,
		Value:    c.Args.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
	if c.MaxAge > 0 {
		expires := time.Now().Unix() + c.MaxAge
		entry.Expires = &expires
	}
	store.Add(entry)

	if err := store.Save(); err != nil {
		return err
	}
	slog.Info("cookie stored", "name", c.Args.Name, "domain", c.Domain, "total", store.Len())
	return nil
}

type cookieCleanCommand struct{}

func (c *cookieCleanCommand) Execute(args []string) error {
	store := openCookieStore()
	before := store.Len()
	store.PruneExpired()
	if err := store.Save(); err != nil {
		return err
	}
	slog.Info("expired cookies removed", "removed", before-store.Len(), "remaining", store.Len())
	return nil
}

type cookieClearCommand struct{}

func (c *cookieClearCommand) Execute(args []string) error {
	store := openCookieStore()
	removed := store.Len()
	store.ClearAll()
	if err := store.Save(); err != nil {
		return err
	}
	slog.Info("cookie store cleared", "removed", removed)
	return nil
}
