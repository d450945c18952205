// Command docgen writes the API reference page from the @Route annotations
// on the HTTP handlers.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

type Endpoint struct {
	Title       string
	Route       string
	Description string
	Response    string
}

// Method returns the HTTP method of the route.
func (e Endpoint) Method() string {
	method, _, _ := strings.Cut(e.Route, " ")
	return method
}

// Path returns the route path without the method and query.
func (e Endpoint) Path() string {
	_, rest, _ := strings.Cut(e.Route, " ")
	path, _, _ := strings.Cut(rest, "?")
	return path
}

var (
	reTitle = regexp.MustCompile(`// @Title: (.*)`)
	reRoute = regexp.MustCompile(`// @Route: (.*)`)
	reDesc  = regexp.MustCompile(`// @Description: (.*)`)
	reResp  = regexp.MustCompile(`// @Response: (.*)`)
)

func main() {
	apiDir := flag.String("src", "internal/api", "directory holding the annotated handlers")
	out := flag.String("out", "docs/api.adoc", "output AsciiDoc file")
	flag.Parse()

	endpoints, err := scanDir(*apiDir)
	if err != nil {
		slog.Error("scan handlers", "dir", *apiDir, "err", err)
		os.Exit(1)
	}

	f, err := os.Create(*out)
	if err != nil {
		slog.Error("create output", "file", *out, "err", err)
		os.Exit(1)
	}
	defer f.Close()

	if err := writeAsciiDoc(f, endpoints); err != nil {
		slog.Error("write output", "file", *out, "err", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %s with %d endpoints\n", *out, len(endpoints))
}

func scanDir(dir string) ([]Endpoint, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var endpoints []Endpoint
	for _, file := range files {
		name := file.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		found, err := scan(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		endpoints = append(endpoints, found...)
	}

	sort.SliceStable(endpoints, func(i, j int) bool {
		if endpoints[i].Path() != endpoints[j].Path() {
			return endpoints[i].Path() < endpoints[j].Path()
		}
		return endpoints[i].Method() < endpoints[j].Method()
	})
	return endpoints, nil
}

// scan collects annotation blocks. A block ends at its @Response line.
func scan(r io.Reader) ([]Endpoint, error) {
	var endpoints []Endpoint
	var current Endpoint

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		if match := reTitle.FindStringSubmatch(line); len(match) > 1 {
			current.Title = strings.TrimSpace(match[1])
		}
		if match := reRoute.FindStringSubmatch(line); len(match) > 1 {
			current.Route = strings.TrimSpace(match[1])
		}
		if match := reDesc.FindStringSubmatch(line); len(match) > 1 {
			current.Description = strings.TrimSpace(match[1])
		}
		if match := reResp.FindStringSubmatch(line); len(match) > 1 {
			current.Response = strings.TrimSpace(match[1])
			if current.Title != "" && current.Route != "" {
				endpoints = append(endpoints, current)
			}
			current = Endpoint{}
		}
	}
	return endpoints, scanner.Err()
}

func writeAsciiDoc(w io.Writer, endpoints []Endpoint) error {
	var b strings.Builder
	b.WriteString("= API Reference\n")
	b.WriteString(":toc: left\n\n")
	b.WriteString("Generated from the handler annotations by `go run ./cmd/docgen`. Do not edit by hand.\n\n")
	b.WriteString("All endpoints are read-only views of the ledger except the backup endpoints, ")
	b.WriteString("which act on the local database file. Errors are JSON objects with `error` and `kind` fields.\n\n")

	b.WriteString("[cols=\"1,3,5\",options=\"header\"]\n|===\n|Method |Path |Description\n")
	for _, ep := range endpoints {
		fmt.Fprintf(&b, "|%s |`%s` |%s\n", ep.Method(), ep.Path(), ep.Description)
	}
	b.WriteString("|===\n")

	for _, ep := range endpoints {
		fmt.Fprintf(&b, "\n== %s\n\n", ep.Title)
		fmt.Fprintf(&b, "`%s`\n\n", ep.Route)
		fmt.Fprintf(&b, "%s\n\n", ep.Description)
		b.WriteString("Response:\n\n----\n")
		b.WriteString(ep.Response)
		b.WriteString("\n----\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}
