package enrich

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackzampolin/tome/internal/book"
	"github.com/jackzampolin/tome/internal/normalize"
)

// olBibEntry matches one value of the Open Library bibkeys response.
type olBibEntry struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Authors  []struct {
		Name string `json:"name"`
	} `json:"authors"`
	PublishDate string `json:"publish_date"`
	Publishers  []struct {
		Name string `json:"name"`
	} `json:"publishers"`
	NumberOfPages int `json:"number_of_pages"`
	Cover         struct {
		Small  string `json:"small"`
		Medium string `json:"medium"`
		Large  string `json:"large"`
	} `json:"cover"`
	Subjects []struct {
		Name string `json:"name"`
	} `json:"subjects"`
	Identifiers struct {
		OpenLibrary []string `json:"openlibrary"`
		ISBN10      []string `json:"isbn_10"`
		ISBN13      []string `json:"isbn_13"`
	} `json:"identifiers"`
}

// olSearch matches the Open Library search response.
type olSearch struct {
	NumFound int `json:"numFound"`
	Docs     []struct {
		Key              string   `json:"key"`
		Title            string   `json:"title"`
		Subtitle         string   `json:"subtitle"`
		AuthorName       []string `json:"author_name"`
		FirstPublishYear int      `json:"first_publish_year"`
		ISBN             []string `json:"isbn"`
		Publisher        []string `json:"publisher"`
		Subject          []string `json:"subject"`
		CoverID          int64    `json:"cover_i"`
		Language         []string `json:"language"`
		NumberOfPages    int      `json:"number_of_pages_median"`
	} `json:"docs"`
}

// NormalizeOpenLibrary converts either a bibkeys payload or a search payload
// into canonical records. The two shapes are distinguished by the presence of
// a docs array.
func NormalizeOpenLibrary(raw json.RawMessage) (book.Response, error) {
	var probe struct {
		Docs json.RawMessage `json:"docs"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return book.Response{}, fmt.Errorf("decoding openlibrary payload: %w", err)
	}
	if probe.Docs != nil {
		return normalizeOLSearch(raw)
	}
	return normalizeOLBib(raw)
}

func normalizeOLBib(raw json.RawMessage) (book.Response, error) {
	var payload map[string]olBibEntry
	if err := json.Unmarshal(raw, &payload); err != nil {
		return book.Response{}, fmt.Errorf("decoding openlibrary bibkeys payload: %w", err)
	}

	var resp book.Response
	for _, entry := range payload {
		title := strings.TrimSpace(entry.Title)
		if title == "" {
			continue
		}

		var subjects []string
		for _, s := range entry.Subjects {
			subjects = append(subjects, s.Name)
		}
		cover := normalize.ImageURL(firstNonEmpty(entry.Cover.Large, entry.Cover.Medium, entry.Cover.Small))

		work := book.Work{
			Title:                title,
			Subtitle:             strings.TrimSpace(entry.Subtitle),
			FirstPublicationYear: yearFrom(entry.PublishDate),
			SubjectTags:          trimAll(subjects),
			CoverImageURL:        cover,
			OpenLibraryIDs:       entry.Identifiers.OpenLibrary,
		}

		publisher := ""
		if len(entry.Publishers) > 0 {
			publisher = strings.TrimSpace(entry.Publishers[0].Name)
		}
		edition := book.Edition{
			Title:           title,
			Publisher:       publisher,
			PublicationDate: strings.TrimSpace(entry.PublishDate),
			PageCount:       entry.NumberOfPages,
			Format:          book.FormatOther,
			CoverImageURL:   cover,
			OpenLibraryIDs:  entry.Identifiers.OpenLibrary,
		}
		edition.SetISBNs(append(entry.Identifiers.ISBN13, entry.Identifiers.ISBN10...))

		var authors []book.Author
		for _, a := range entry.Authors {
			if name := strings.TrimSpace(a.Name); name != "" {
				authors = append(authors, book.Author{Name: name, Gender: book.GenderUnknown})
			}
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

	singleProvider(&resp, book.ProviderOpenLibrary)
	return resp, nil
}

func normalizeOLSearch(raw json.RawMessage) (book.Response, error) {
	var payload olSearch
	if err := json.Unmarshal(raw, &payload); err != nil {
		return book.Response{}, fmt.Errorf("decoding openlibrary search payload: %w", err)
	}

	var resp book.Response
	for _, doc := range payload.Docs {
		title := strings.TrimSpace(doc.Title)
		if title == "" {
			continue
		}

		cover := ""
		if doc.CoverID > 0 {
			cover = "https://covers.openlibrary.org/b/id/" + strconv.FormatInt(doc.CoverID, 10) + "-L.jpg"
		}

		var olIDs []string
		if id := strings.TrimPrefix(doc.Key, "/works/"); id != "" && id != doc.Key {
			olIDs = []string{id}
		}

		work := book.Work{
			Title:                title,
			Subtitle:             strings.TrimSpace(doc.Subtitle),
			FirstPublicationYear: doc.FirstPublishYear,
			SubjectTags:          trimAll(doc.Subject),
			CoverImageURL:        cover,
			OpenLibraryIDs:       olIDs,
		}

		publisher := ""
		if len(doc.Publisher) > 0 {
			publisher = strings.TrimSpace(doc.Publisher[0])
		}
		language := ""
		if len(doc.Language) > 0 {
			language = doc.Language[0]
		}
		edition := book.Edition{
			Title:          title,
			Publisher:      publisher,
			PageCount:      doc.NumberOfPages,
			Format:         book.FormatOther,
			Language:       language,
			CoverImageURL:  cover,
			OpenLibraryIDs: olIDs,
		}
		if doc.FirstPublishYear > 0 {
			edition.PublicationDate = strconv.Itoa(doc.FirstPublishYear)
		}
		edition.SetISBNs(doc.ISBN)

		var authors []book.Author
		for _, name := range trimAll(doc.AuthorName) {
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

	singleProvider(&resp, book.ProviderOpenLibrary)
	return resp, nil
}
