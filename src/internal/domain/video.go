package domain

import (
	"strings"
	"time"
)

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Slug is the URL form of the category name ("Kitchen Tips" -> "kitchen-tips").
func (c Category) Slug() string {
	return Slugify(c.Name)
}

func Slugify(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

// NameFromSlug reverses Slugify well enough for a case-insensitive name match.
func NameFromSlug(slug string) string {
	return strings.ReplaceAll(slug, "-", " ")
}

// Video is the catalog entry for one lesson. VideoPath and ThumbnailPath are
// nominal storage keys; they are resolved to signed URLs per render.
type Video struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	CategoryID    string    `json:"categoryId"`
	VideoPath     string    `json:"videoPath"`
	ThumbnailPath string    `json:"thumbnailPath"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ResolvedVideo is a Video whose asset paths were turned into playable URLs.
type ResolvedVideo struct {
	Video
	VideoURL     string `json:"videoUrl"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// StoredObject is one entry of an object store listing.
type StoredObject struct {
	Name string
	Size int64
}
