package model

import (
	"strings"

	apperrors "PS3DL/internal/errors"
)

const archiveSuffix = ".zip"

// Target is one remote item eligible for acquisition. It is immutable once resolved.
type Target struct {
	ID         string // canonical identifier, see CanonicalID
	Title      string // display title as listed by the remote index
	RemoteLink string // link relative to the ISO base URL
	SizeHint   string // human readable size, e.g. "4.2 GiB"
	Region     string // optional region code
}

// CanonicalID derives the lookup identifier for a title: the trimmed title without a
// trailing ".zip". The same value is the key index key, the cache key and the staging
// folder name.
func CanonicalID(title string) string {
	id := strings.TrimSpace(title)
	if strings.HasSuffix(strings.ToLower(id), archiveSuffix) {
		id = id[:len(id)-len(archiveSuffix)]
	}
	return strings.TrimSpace(id)
}

// NewTarget builds a Target. An empty id is derived from the title.
func NewTarget(id, title, remoteLink, sizeHint, region string) (Target, error) {
	t := Target{
		ID:         strings.TrimSpace(id),
		Title:      strings.TrimSpace(title),
		RemoteLink: strings.TrimSpace(remoteLink),
		SizeHint:   strings.TrimSpace(sizeHint),
		Region:     strings.TrimSpace(region),
	}
	if t.ID == "" {
		t.ID = CanonicalID(t.Title)
	}
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	return t, nil
}

// Validate checks that the target carries what every stage needs.
func (t Target) Validate() error {
	switch {
	case t.ID == "":
		return apperrors.ValidationError(apperrors.CodeValidationGeneric, "target identifier is empty", nil).
			WithModule("model").
			WithOperation("Validate").
			WithField("title", t.Title)
	case t.RemoteLink == "":
		return apperrors.ValidationError(apperrors.CodeValidationGeneric, "target remote link is empty", nil).
			WithModule("model").
			WithOperation("Validate").
			WithField("target", t.ID)
	case strings.ContainsAny(t.ID, `/\`) || t.ID == "." || t.ID == "..":
		return apperrors.ValidationError(apperrors.CodeValidationGeneric, "target identifier is not a valid file name", nil).
			WithModule("model").
			WithOperation("Validate").
			WithField("target", t.ID)
	}
	return nil
}

// DisplayTitle returns the title without the archive suffix, or the ID when no title
// is known.
func (t Target) DisplayTitle() string {
	if title := CanonicalID(t.Title); title != "" {
		return title
	}
	return t.ID
}

// ArchiveName is the staged archive file name.
func (t Target) ArchiveName() string {
	return t.ID + archiveSuffix
}

// PayloadName is the raw (encrypted) payload file name inside the staging folder.
func (t Target) PayloadName() string {
	return t.ID + ".iso"
}

var nameReplacer = strings.NewReplacer(
	" ", "_", "-", "_", ",", "_", ":", "_", ";", "_", "'", "_", `"`, "_",
)

var fallbackReplacer = strings.NewReplacer(
	" ", "_", "-", "_", "(", "_", ")", "_", ",", "_",
)

// ArtifactName is the final decrypted file name: "{region}-{name}.iso" in lowercase,
// where name is the display title cut at the first parenthesis. Without a region the
// sanitized identifier is used.
func (t Target) ArtifactName() string {
	region := strings.ToLower(strings.TrimSpace(t.Region))

	name := t.DisplayTitle()
	if idx := strings.Index(name, "("); idx >= 0 {
		name = name[:idx]
	}
	name = nameReplacer.Replace(strings.TrimSpace(name))
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	name = strings.ToLower(strings.Trim(name, "_"))

	if region != "" && name != "" {
		return region + "-" + name + ".iso"
	}
	return strings.ToLower(fallbackReplacer.Replace(t.ID)) + ".iso"
}
