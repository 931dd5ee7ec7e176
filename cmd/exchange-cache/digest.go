package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/exchange-cache/pkg/fingerprint"
)

type digestOptions struct {
	url         string
	method      string
	headers     []string
	exclude     []string
	bodyFile    string
	contentType string
	generator   string
	includeBody bool
}

func newDigestCmd() *cobra.Command {
	var opts digestOptions
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Print the fingerprint of a request",
		Long: "Digest computes the fingerprint a Finder would assign to a request. " +
			"Use it to check which headers and bodies make two requests share a cache entry.",
		RunE: func(cmd *cobra.Command, args []string) error {
			fp, err := digest(opts)
			if err != nil {
				return err
			}
			if fp == "" {
				return fmt.Errorf("request cannot be fingerprinted: it needs an address")
			}
			fmt.Fprintln(cmd.OutOrStdout(), fp)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "", "Request address")
	f.StringVarP(&opts.method, "method", "X", "GET", "Request method")
	f.StringArrayVarP(&opts.headers, "header", "H", nil, `Request header as "Name: value" (repeatable)`)
	f.StringSliceVar(&opts.exclude, "exclude", nil, "Header names to leave out of the fingerprint, or "+fingerprint.ExcludeAll)
	f.StringVar(&opts.bodyFile, "body-file", "", "File holding the request body")
	f.StringVar(&opts.contentType, "content-type", "", "Body content type (default: the Content-Type header)")
	f.StringVar(&opts.generator, "generator", fingerprint.DefaultGeneratorName, "Fingerprint generator: "+strings.Join(fingerprint.Names(), ", "))
	f.BoolVar(&opts.includeBody, "include-body", false, "Hash the body as for non-GET pipelines")
	return cmd
}

func digest(opts digestOptions) (string, error) {
	gen, err := fingerprint.Lookup(opts.generator)
	if err != nil {
		return "", err
	}

	d := fingerprint.Descriptor{To: opts.url}
	contentType := opts.contentType
	for _, raw := range opts.headers {
		name, value, ok := strings.Cut(raw, ":")
		if !ok {
			return "", fmt.Errorf("malformed header %q, want \"Name: value\"", raw)
		}
		h := fingerprint.Header{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)}
		d.Headers = append(d.Headers, h)
		if contentType == "" && strings.EqualFold(h.Name, "Content-Type") {
			contentType = h.Value
		}
	}

	// Bodies are rooted under the method exactly as the proxy does it.
	var body fingerprint.Node
	if opts.bodyFile != "" {
		payload, err := os.ReadFile(opts.bodyFile)
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		if isJSON(contentType) {
			body, err = fingerprint.ParseJSON(payload)
		} else {
			body, err = fingerprint.ParseXMLBytes(payload)
		}
		if err != nil {
			return "", err
		}
	}
	d.Body = fingerprint.MethodRoot(opts.method, body)

	return gen.Fingerprint(d, fingerprint.Options{
		IncludeBody:     opts.includeBody,
		ExcludedHeaders: opts.exclude,
	})
}

func isJSON(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.EqualFold(strings.TrimSpace(mediaType), "application/json")
}
