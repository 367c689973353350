// Package assets turns opaque image references into something a provider
// can fetch.
package assets

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"storyreel/internal/services"
)

const maxInlineBytes = 20 << 20

// Resolver maps image references to provider-fetchable URLs. Absolute
// http(s) and data URLs pass through, relative references are joined with
// BaseURL, and local files are inlined as data URIs.
type Resolver struct {
	baseURL string
}

// NewResolver builds a resolver. baseURL may be empty.
func NewResolver(baseURL string) *Resolver {
	return &Resolver{baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

// Resolve returns the URL for ref.
func (r *Resolver) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", services.Wrap(services.ErrValidation, "assets", "resolve", "empty image reference", nil)
	}
	if parsed, err := url.Parse(ref); err == nil {
		switch strings.ToLower(parsed.Scheme) {
		case "http", "https", "data":
			return ref, nil
		case "file":
			return inlineFile(parsed.Path)
		}
	}
	if filepath.IsAbs(ref) || strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "../") {
		return inlineFile(ref)
	}
	if r.baseURL == "" {
		if _, err := os.Stat(ref); err == nil {
			return inlineFile(ref)
		}
		return "", services.Wrap(services.ErrValidation, "assets", "resolve",
			fmt.Sprintf("relative reference %q needs assets.base_url", ref), nil)
	}
	return r.baseURL + "/" + strings.TrimLeft(ref, "/"), nil
}

func inlineFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "assets", "inline", "image not readable", err)
	}
	if info.Size() > maxInlineBytes {
		return "", services.Wrap(services.ErrValidation, "assets", "inline",
			fmt.Sprintf("image %s is %d bytes, above the %d byte inline limit", path, info.Size(), maxInlineBytes), nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "assets", "inline", "image not readable", err)
	}
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
