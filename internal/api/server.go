package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jspahr/packetlens/internal/cookie"
	"github.com/jspahr/packetlens/internal/feed"
	"github.com/jspahr/packetlens/internal/reqlog"
	"github.com/jspahr/packetlens/internal/types"
)

// Service is the inspection surface the HTTP API is built over.
type Service interface {
	RecentRequests(ctx context.Context, limit int) ([]reqlog.Entry, error)
	SearchRequests(ctx context.Context, query string, limit int) ([]reqlog.Entry, error)
	RequestStats(ctx context.Context) (reqlog.Stats, error)
	ListCookies(ctx context.Context, domain string) ([]cookie.Entry, error)
	ClearCookies(ctx context.Context) (removed, remaining int, err error)
	PruneCookies(ctx context.Context) (removed, remaining int, err error)
	LiveClientCount(ctx context.Context) int
}

// NewServer builds the inspection API router.
func NewServer(svc Service, broker *feed.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("PacketLens Inspection API", "1.0.0")
	cfg.Components.Schemas = huma.NewMapRegistry("#/components/schemas/", schemaNamer)
	api := humachi.New(router, cfg)

	router.Get("/api/v1/live", feed.SSEHandler(broker))
	router.Handle("/metrics", promhttp.Handler())

	registerRequestHandlers(api, svc)
	registerCookieHandlers(api, svc)

	return router
}

// schemaNamer prefixes schema names with the declaring Go package so
// same-named types from different packages (reqlog.Entry and cookie.Entry
// both surface here) register distinct component schemas.
func schemaNamer(t reflect.Type, hint string) string {
	name := huma.DefaultSchemaNamer(t, hint)
	pkg := t.PkgPath()
	if pkg == "" {
		return name
	}
	if i := strings.LastIndexByte(pkg, '/'); i >= 0 {
		pkg = pkg[i+1:]
	}
	return strings.ToUpper(pkg[:1]) + pkg[1:] + name
}

func registerRequestHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status      string `json:"status"`
			LiveClients int    `json:"live_clients"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.LiveClients = svc.LiveClientCount(ctx)
			return out, nil
		})

	type listRequestsInput struct {
		Limit int `query:"limit" default:"50" doc:"Maximum number of entries to return, newest first."`
	}
	type entriesOutput struct {
		Body struct {
			Entries []reqlog.Entry `json:"entries"`
			Count   int            `json:"count"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-requests", Method: http.MethodGet, Path: "/api/v1/requests", Summary: "List recent logged requests", Tags: []string{"Requests"}},
		func(ctx context.Context, input *listRequestsInput) (*entriesOutput, error) {
			entries, err := svc.RecentRequests(ctx, input.Limit)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &entriesOutput{}
			out.Body.Entries = entries
			out.Body.Count = len(entries)
			return out, nil
		})

	type searchRequestsInput struct {
		Query string `query:"q" doc:"Case-insensitive substring matched against URL, method, headers and body preview."`
		Limit int    `query:"limit" default:"50" doc:"Maximum number of matches to return."`
	}
	huma.Register(api, huma.Operation{OperationID: "search-requests", Method: http.MethodGet, Path: "/api/v1/requests/search", Summary: "Search logged requests", Tags: []string{"Requests"}},
		func(ctx context.Context, input *searchRequestsInput) (*entriesOutput, error) {
			if input.Query == "" {
				return nil, huma.Error400BadRequest("query parameter q is required")
			}
			entries, err := svc.SearchRequests(ctx, input.Query, input.Limit)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &entriesOutput{}
			out.Body.Entries = entries
			out.Body.Count = len(entries)
			return out, nil
		})

	type statsOutput struct {
		Body reqlog.Stats
	}
	huma.Register(api, huma.Operation{OperationID: "request-stats", Method: http.MethodGet, Path: "/api/v1/requests/stats", Summary: "Aggregate statistics over the request log", Tags: []string{"Requests"}},
		func(ctx context.Context, input *struct{}) (*statsOutput, error) {
			stats, err := svc.RequestStats(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &statsOutput{}
			out.Body = stats
			return out, nil
		})
}

func registerCookieHandlers(api huma.API, svc Service) {
	type listCookiesInput struct {
		Domain string `query:"domain" doc:"Optional domain substring filter."`
	}
	type cookiesOutput struct {
		Body struct {
			Cookies []cookie.Entry `json:"cookies"`
			Count   int            `json:"count"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-cookies", Method: http.MethodGet, Path: "/api/v1/cookies", Summary: "List stored cookies", Tags: []string{"Cookies"}},
		func(ctx context.Context, input *listCookiesInput) (*cookiesOutput, error) {
			entries, err := svc.ListCookies(ctx, input.Domain)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &cookiesOutput{}
			out.Body.Cookies = entries
			out.Body.Count = len(entries)
			return out, nil
		})

	type countOutput struct {
		Body struct {
			Removed   int `json:"removed"`
			Remaining int `json:"remaining"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "clear-cookies", Method: http.MethodDelete, Path: "/api/v1/cookies", Summary: "Remove all stored cookies", Tags: []string{"Cookies"}},
		func(ctx context.Context, input *struct{}) (*countOutput, error) {
			removed, remaining, err := svc.ClearCookies(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &countOutput{}
			out.Body.Removed = removed
			out.Body.Remaining = remaining
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "prune-cookies", Method: http.MethodPost, Path: "/api/v1/cookies/prune", Summary: "Remove expired cookies", Tags: []string{"Cookies"}},
		func(ctx context.Context, input *struct{}) (*countOutput, error) {
			removed, remaining, err := svc.PruneCookies(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &countOutput{}
			out.Body.Removed = removed
			out.Body.Remaining = remaining
			return out, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *types.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case types.CodeInvalidInput:
			return huma.Error400BadRequest(coded.Message)
		case types.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case types.CodePermissionDenied:
			return huma.Error403Forbidden(coded.Message)
		case types.CodeTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case types.CodeTransportError:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
