package enrich

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/tome/internal/book"
	"github.com/jackzampolin/tome/internal/normalize"
)

// googleVolumes matches the Google Books volumes response.
type googleVolumes struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		ID         string `json:"id"`
		VolumeInfo struct {
			Title               string   `json:"title"`
			Subtitle            string   `json:"subtitle"`
			Authors             []string `json:"authors"`
			Publisher           string   `json:"publisher"`
			PublishedDate       string   `json:"publishedDate"`
			Description         string   `json:"description"`
			IndustryIdentifiers []struct {
				Type       string `json:"type"`
				Identifier string `json:"identifier"`
			} `json:"industryIdentifiers"`
			PageCount  int      `json:"pageCount"`
			PrintType  string   `json:"printType"`
			Categories []string `json:"categories"`
			ImageLinks struct {
				SmallThumbnail string `json:"smallThumbnail"`
				Thumbnail      string `json:"thumbnail"`
				Small          string `json:"small"`
				Medium         string `json:"medium"`
				Large          string `json:"large"`
			} `json:"imageLinks"`
			Language string `json:"language"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

// NormalizeGoogleBooks converts a volumes payload into canonical records.
func NormalizeGoogleBooks(raw json.RawMessage) (book.Response, error) {
	var payload googleVolumes
	if err := json.Unmarshal(raw, &payload); err != nil {
		return book.Response{}, fmt.Errorf("decoding googlebooks payload: %w", err)
	}

	var resp book.Response
	for _, item := range payload.Items {
		vi := item.VolumeInfo
		title := strings.TrimSpace(vi.Title)
		if title == "" {
			continue
		}

		var isbns []string
		for _, id := range vi.IndustryIdentifiers {
			if id.Type == "ISBN_10" || id.Type == "ISBN_13" {
				isbns = append(isbns, id.Identifier)
			}
		}

		// Prefer the largest available image.
		cover := firstNonEmpty(
			vi.ImageLinks.Large,
			vi.ImageLinks.Medium,
			vi.ImageLinks.Small,
			vi.ImageLinks.Thumbnail,
			vi.ImageLinks.SmallThumbnail,
		)
		cover = normalize.ImageURL(cover)

		work := book.Work{
			Title:                title,
			Subtitle:             strings.TrimSpace(vi.Subtitle),
			Description:          strings.TrimSpace(vi.Description),
			FirstPublicationYear: yearFrom(vi.PublishedDate),
			SubjectTags:          trimAll(vi.Categories),
			CoverImageURL:        cover,
		}
		if item.ID != "" {
			work.GoogleBooksIDs = []string{item.ID}
		}

		edition := book.Edition{
			Title:           title,
			Publisher:       strings.TrimSpace(vi.Publisher),
			PublicationDate: strings.TrimSpace(vi.PublishedDate),
			PageCount:       vi.PageCount,
			Format:          formatFrom(vi.PrintType),
			Language:        strings.TrimSpace(vi.Language),
			CoverImageURL:   cover,
		}
		edition.SetISBNs(isbns)
		if item.ID != "" {
			edition.GoogleBooksIDs = []string{item.ID}
		}

		var authors []book.Author
		for _, name := range trimAll(vi.Authors) {
			authors = append(authors, book.Author{Name: name, Gender: book.GenderUnknown})
		}

		q := workQuality(work, edition, len(authors))
		work.Quality = q
		edition.Quality = q
		for i := range authors {
			authors[i].Quality = q
		}

		resp.Works = append(resp.Works, work)
		resp.Editions = append(resp.Editions, edition)
		resp.Authors = append(resp.Authors, authors...)
	}

	singleProvider(&resp, book.ProviderGoogleBooks)
	return resp, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
