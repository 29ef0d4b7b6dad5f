package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/shpitdev/contactsync/pkg/mockapollo"
)

func main() {
	addr := defaultString("MOCK_APOLLO_ADDR", ":8080")
	apiKey := defaultString("MOCK_APOLLO_API_KEY", "")
	labels := defaultString("MOCK_APOLLO_LABELS", "")

	fs := flag.NewFlagSet("mock-apollo", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&apiKey, "api-key", apiKey, "Require this X-Api-Key on every request; empty disables the check")
	fs.StringVar(&labels, "labels", labels, "Comma-separated id=name pairs to pre-create as contact labels (also supports env: MOCK_APOLLO_LABELS)")
	_ = fs.Parse(os.Args[1:])

	srv := mockapollo.New()
	srv.RequireAPIKey(apiKey)
	for _, pair := range splitCSV(labels) {
		id, name, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(name) == "" {
			_, _ = fmt.Fprintf(os.Stderr, "invalid label %q (want id=name)\n", pair)
			os.Exit(2)
		}
		srv.SeedLabel(strings.TrimSpace(id), strings.TrimSpace(name))
	}

	_, _ = fmt.Fprintf(os.Stdout, "mock-apollo listening on %s (base URL http://localhost%s/v1)\n", addr, addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
