package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

// ErrEmptyPageList is returned when there is nothing to capture.
var ErrEmptyPageList = errors.New("page list is empty")

// PageTarget is one page to capture. URL may be absolute or a path relative
// to the base URL.
type PageTarget struct {
	Name string
	URL  string
}

// pageRecord is the on-disk shape of a page list entry. "pageName" is
// accepted as an alias of "name".
type pageRecord struct {
	Name     string `json:"name" yaml:"name"`
	PageName string `json:"pageName" yaml:"pageName"`
	URL      string `json:"url" yaml:"url"`
}

// LoadPages reads an ordered page list from a JSON or YAML file.
func LoadPages(path string) ([]PageTarget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading page list: %w", err)
	}
	return ParsePages(data, filepath.Ext(path))
}

// ParsePages decodes a page list. ext selects the format (".yaml"/".yml" for
// YAML, anything else is JSON).
func ParsePages(data []byte, ext string) ([]PageTarget, error) {
	var records []pageRecord
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("error parsing page list: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("error parsing page list: %w", err)
		}
	}

	pages := make([]PageTarget, 0, len(records))
	for i, r := range records {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			name = strings.TrimSpace(r.PageName)
		}
		url := strings.TrimSpace(r.URL)
		if url == "" {
			return nil, fmt.Errorf("page list entry %d: url is required", i)
		}
		if name == "" {
			name = NameFromURL(url)
		}
		pages = append(pages, PageTarget{Name: name, URL: url})
	}

	if len(pages) == 0 {
		return nil, ErrEmptyPageList
	}
	return pages, nil
}

// PagesFromURLs builds targets from command line URLs. A single URL may be
// given an explicit name; otherwise names are derived from the URL.
func PagesFromURLs(urls []string, name string) ([]PageTarget, error) {
	var pages []PageTarget
	for _, u := range urls {
		if u = strings.TrimSpace(u); u == "" {
			continue
		}
		pages = append(pages, PageTarget{Name: NameFromURL(u), URL: u})
	}
	if len(pages) == 0 {
		return nil, ErrEmptyPageList
	}
	if name != "" && len(pages) == 1 {
		pages[0].Name = name
	}
	return pages, nil
}

// BuildURL joins a page URL to the base URL. URLs starting with "http" are
// returned unchanged.
func BuildURL(pageURL, baseURL string) string {
	if strings.HasPrefix(pageURL, "http") {
		return pageURL
	}
	if pageURL == "" {
		return baseURL
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(pageURL, "/")
}

// NameFromURL derives a capture name from a URL: the host without scheme,
// "www." or port, followed by the path with slashes turned into dashes.
func NameFromURL(url string) string {
	// Remove protocol if present
	if strings.HasPrefix(url, "http://") {
		url = url[7:]
	} else if strings.HasPrefix(url, "https://") {
		url = url[8:]
	}

	url = strings.TrimPrefix(url, "www.")
	if idx := strings.IndexAny(url, "?#"); idx >= 0 {
		url = url[:idx]
	}

	host, path, _ := strings.Cut(url, "/")
	if idx := strings.Index(host, ":"); idx > 0 {
		host = host[:idx]
	}

	path = strings.Trim(path, "/")
	if path == "" {
		if host == "" {
			return "page"
		}
		return host
	}
	path = strings.ReplaceAll(path, "/", "-")
	if host == "" {
		return path
	}
	return host + "-" + path
}
