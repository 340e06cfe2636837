package common

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrEmptySlug = errors.New("slug cannot be empty")
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
)

func Slugify(input, fallback string) (string, error) {
	slug := slugify(input)
	if slug == "" {
		slug = slugify(fallback)
	}
	if slug == "" {
		return "", ErrEmptySlug
	}
	return slug, nil
}

// JobName joins the slug of every non-empty part with ':'.
// Used for names of jobs derived from schedules and approval events.
func JobName(parts ...string) string {
	slugs := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := slugify(p); s != "" {
			slugs = append(slugs, s)
		}
	}
	return strings.Join(slugs, ":")
}

func slugify(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	slug := nonSlugChars.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}
