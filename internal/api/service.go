package api

import (
	"context"
	"log/slog"

	"github.com/jspahr/packetlens/internal/cookie"
	"github.com/jspahr/packetlens/internal/feed"
	"github.com/jspahr/packetlens/internal/reqlog"
)

// Inspector implements Service over the request log and cookie store.
type Inspector struct {
	log     *reqlog.Log
	cookies *cookie.Store
	broker  *feed.Broker
}

// NewInspector binds the inspection service to its backing stores.
func NewInspector(log *reqlog.Log, cookies *cookie.Store, broker *feed.Broker) *Inspector {
	return &Inspector{log: log, cookies: cookies, broker: broker}
}

func (s *Inspector) RecentRequests(ctx context.Context, limit int) ([]reqlog.Entry, error) {
	return s.log.Recent(limit)
}

func (s *Inspector) SearchRequests(ctx context.Context, query string, limit int) ([]reqlog.Entry, error) {
	return s.log.Search(query, limit)
}

func (s *Inspector) RequestStats(ctx context.Context) (reqlog.Stats, error) {
	return s.log.Stats()
}

func (s *Inspector) ListCookies(ctx context.Context, domain string) ([]cookie.Entry, error) {
	return s.cookies.List(domain), nil
}

func (s *Inspector) ClearCookies(ctx context.Context) (int, int, error) {
	removed := s.cookies.Len()
	s.cookies.ClearAll()
	if err := s.cookies.Save(); err != nil {
		slog.Warn("cookie save failed after clear", "error", err)
	}
	return removed, s.cookies.Len(), nil
}

func (s *Inspector) PruneCookies(ctx context.Context) (int, int, error) {
	before := s.cookies.Len()
	s.cookies.PruneExpired()
	if err := s.cookies.Save(); err != nil {
		slog.Warn("cookie save failed after prune", "error", err)
	}
	remaining := s.cookies.Len()
	return before - remaining, remaining, nil
}

func (s *Inspector) LiveClientCount(ctx context.Context) int {
	return s.broker.ClientCount()
}
