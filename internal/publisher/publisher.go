// Package publisher builds the public URLs of a conversion and resolves asset
// requests safely inside its output directory.
package publisher

import (
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"pdfhtmlgo/internal/apperr"
)

// AssetPathPlaceholder marks where a relative asset path goes in the template.
const AssetPathPlaceholder = "{asset_path}"

// ResolveBaseURL picks the public origin: explicit value, then the configured
// one, then forwarded headers, then the request itself.
func ResolveBaseURL(explicit, configured string, r *http.Request) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(configured); v != "" {
		return strings.TrimRight(v, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if v := firstHeaderValue(r.Header.Get("X-Forwarded-Proto")); v != "" {
		scheme = v
	}
	host := r.Host
	if v := firstHeaderValue(r.Header.Get("X-Forwarded-Host")); v != "" {
		host = v
	}
	return strings.TrimRight(scheme+"://"+host, "/")
}

func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// URLs builds the public links of one process.
type URLs struct {
	Base      string
	ProcessID string
}

func (u URLs) action(action string, extra url.Values) string {
	q := url.Values{}
	q.Set("action", action)
	q.Set("process_id", u.ProcessID)
	for k, vs := range extra {
		q[k] = vs
	}
	return u.Base + "/convert?" + q.Encode()
}

func (u URLs) View() string { return u.action("view", nil) }

func (u URLs) Download() string { return u.action("download", nil) }

func (u URLs) AssetsBase() string { return u.action("asset", nil) }

// Asset is the URL of one file relative to the output directory.
func (u URLs) Asset(assetPath string) string {
	return u.action("asset", url.Values{"asset_path": {assetPath}})
}

// AssetTemplate is AssetsBase with an unescaped {asset_path} placeholder.
func (u URLs) AssetTemplate() string {
	return u.AssetsBase() + "&asset_path=" + AssetPathPlaceholder
}

// ResolveAssetPath maps a client supplied relative path to a regular file
// inside outputDir. Anything that would leave the directory, including via
// symlinks, fails with apperr.ErrPathViolation.
func ResolveAssetPath(outputDir, assetPath string) (string, error) {
	p := strings.ReplaceAll(strings.TrimSpace(assetPath), "\\", "/")
	if p == "" || strings.HasPrefix(p, "/") || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return "", apperr.Wrap(apperr.ErrPathViolation, "asset path %q", assetPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", apperr.Wrap(apperr.ErrPathViolation, "asset path %q", assetPath)
		}
	}
	clean := path.Clean(p)
	if clean == "." {
		return "", apperr.Wrap(apperr.ErrPathViolation, "asset path %q", assetPath)
	}

	root, err := filepath.EvalSymlinks(outputDir)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrPathViolation, "output dir: %v", err)
	}
	target, err := filepath.EvalSymlinks(filepath.Join(root, filepath.FromSlash(clean)))
	if err != nil {
		return "", apperr.Wrap(apperr.ErrPathViolation, "asset path %q: %v", assetPath, err)
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", apperr.Wrap(apperr.ErrPathViolation, "asset path %q", assetPath)
	}
	info, err := os.Stat(target)
	if err != nil || !info.Mode().IsRegular() {
		return "", apperr.Wrap(apperr.ErrPathViolation, "asset path %q is not a file", assetPath)
	}
	return target, nil
}

// ContentType guesses from the extension and sniffs the file otherwise.
func ContentType(path string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return m.String()
}
