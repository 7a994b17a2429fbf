package enrich

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/tome/internal/book"
	"github.com/jackzampolin/tome/internal/normalize"
)

// isbndbBook matches the ISBNdb /book/{isbn} response.
type isbndbBook struct {
	Book struct {
		Title         string   `json:"title"`
		TitleLong     string   `json:"title_long"`
		Authors       []string `json:"authors"`
		Publisher     string   `json:"publisher"`
		DatePublished string   `json:"date_published"`
		Pages         int      `json:"pages"`
		ISBN          string   `json:"isbn"`
		ISBN13        string   `json:"isbn13"`
		Binding       string   `json:"binding"`
		Language      string   `json:"language"`
		Image         string   `json:"image"`
		Synopsis      string   `json:"synopsis"`
		Subjects      []string `json:"subjects"`
	} `json:"book"`
}

// NormalizeISBNdb converts a /book payload into canonical records.
func NormalizeISBNdb(raw json.RawMessage) (book.Response, error) {
	var payload isbndbBook
	if err := json.Unmarshal(raw, &payload); err != nil {
		return book.Response{}, fmt.Errorf("decoding isbndb payload: %w", err)
	}

	b := payload.Book
	title := strings.TrimSpace(b.Title)
	if title == "" {
		title = strings.TrimSpace(b.TitleLong)
	}
	if title == "" {
		return book.Response{}, nil
	}

	cover := normalize.ImageURL(b.Image)

	work := book.Work{
		Title:                title,
		Description:          strings.TrimSpace(b.Synopsis),
		FirstPublicationYear: yearFrom(b.DatePublished),
		SubjectTags:          trimAll(b.Subjects),
		CoverImageURL:        cover,
	}
	if b.ISBN13 != "" {
		work.ISBNdbIDs = []string{b.ISBN13}
	}

	edition := book.Edition{
		Title:           title,
		Publisher:       strings.TrimSpace(b.Publisher),
		PublicationDate: strings.TrimSpace(b.DatePublished),
		PageCount:       b.Pages,
		Format:          formatFrom(b.Binding),
		Language:        strings.TrimSpace(b.Language),
		CoverImageURL:   cover,
	}
	edition.SetISBNs([]string{b.ISBN13, b.ISBN})
	if b.ISBN13 != "" {
		edition.ISBNdbIDs = []string{b.ISBN13}
	}

	var authors []book.Author
	for _, name := range trimAll(b.Authors) {
		authors = append(authors, book.Author{Name: name, Gender: book.GenderUnknown})
	}

	q := workQuality(work, edition, len(authors))
	work.Quality = q
	edition.Quality = q
	for i := range authors {
		authors[i].Quality = q
	}

	resp := book.Response{
		Works:    []book.Work{work},
		Editions: []book.Edition{edition},
		Authors:  authors,
	}
	singleProvider(&resp, book.ProviderISBNdb)
	return resp, nil
}
