package keys

import (
	"encoding/json"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"PS3DL/internal/model"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
)

const packageSuffix = ".zip"

// Index maps a target identifier to the URL-decoded location of its key package.
type Index map[string]string

// Lookup returns the key record for id. Identifiers are case-sensitive.
func (i Index) Lookup(id string) (model.KeyRecord, bool) {
	location, ok := i[id]
	if !ok {
		return model.KeyRecord{}, false
	}
	return model.KeyRecord{TargetID: id, PackageLocation: location}, true
}

// Records returns the index as records sorted by identifier.
func (i Index) Records() []model.KeyRecord {
	ids := make([]string, 0, len(i))
	for id := range i {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]model.KeyRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, model.KeyRecord{TargetID: id, PackageLocation: i[id]})
	}
	return records
}

// ParseIndex reads a directory listing page. Every anchor whose display name ends in
// ".zip" becomes an entry keyed by the name without the suffix; the value is the
// URL-decoded href.
func ParseIndex(r io.Reader) (Index, error) {
	index := make(Index)
	tokenizer := html.NewTokenizer(r)

	var (
		inAnchor bool
		href     string
		title    string
		text     strings.Builder
	)

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if err := tokenizer.Err(); err != nil && err != io.EOF {
				return nil, errors.Wrap(err, "failed to tokenize key index")
			}
			return index, nil

		case html.StartTagToken:
			name, hasAttr := tokenizer.TagName()
			if string(name) != "a" {
				continue
			}
			inAnchor = true
			href, title = "", ""
			text.Reset()
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = tokenizer.TagAttr()
				switch string(key) {
				case "href":
					href = string(val)
				case "title":
					title = string(val)
				}
			}

		case html.TextToken:
			if inAnchor {
				text.Write(tokenizer.Text())
			}

		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if string(name) != "a" || !inAnchor {
				continue
			}
			inAnchor = false
			addEntry(index, strings.TrimSpace(text.String()), strings.TrimSpace(title), href)
		}
	}
}

func addEntry(index Index, display, title, href string) {
	name := display
	if !strings.HasSuffix(name, packageSuffix) && strings.HasSuffix(title, packageSuffix) {
		// long names are elided in the visible text of some listings
		name = title
	}
	if !strings.HasSuffix(name, packageSuffix) || href == "" {
		return
	}

	id := strings.TrimSuffix(name, packageSuffix)
	if id == "" {
		return
	}

	location, err := url.PathUnescape(href)
	if err != nil {
		location = href
	}
	index[id] = location
}

// LoadCache reads a serialized index.
func LoadCache(path string) (Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, errors.Wrapf(err, "failed to decode key cache %s", path)
	}
	if len(index) == 0 {
		return nil, errors.Errorf("key cache %s is empty", path)
	}
	return index, nil
}

// SaveCache writes the index next to path and renames it into place.
func SaveCache(path string, index Index) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create key cache directory")
	}

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode key cache")
	}

	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write key cache")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "failed to move key cache into place")
	}
	return nil
}
