package normalize

import "testing"

func TestISBN(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		valid bool
	}{
		{"isbn13 with hyphens", "978-0-439-70818-0", "9780439708180", true},
		{"isbn13 compact", "9780451524935", "9780451524935", true},
		{"isbn10", "0-306-40615-2", "0306406152", true},
		{"isbn10 check X lowercase", "043970818x", "043970818X", true},
		{"spaces", " 978 0439 708180 ", "9780439708180", true},
		{"too short", "12345", "", false},
		{"letters", "97804395bad80", "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ISBN(tt.in)
			if ok != tt.valid {
				t.Fatalf("ISBN(%q) valid = %v, want %v", tt.in, ok, tt.valid)
			}
			if got != tt.want {
				t.Errorf("ISBN(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestISBNIdempotent(t *testing.T) {
	inputs := []string{"978-0-439-70818-0", "0306406152", "043970818x"}
	for _, in := range inputs {
		once, ok := ISBN(in)
		if !ok {
			t.Fatalf("ISBN(%q) unexpectedly invalid", in)
		}
		twice, ok := ISBN(once)
		if !ok || twice != once {
			t.Errorf("ISBN not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestISBNConversion(t *testing.T) {
	isbn13, ok := ISBN10To13("0306406152")
	if !ok || isbn13 != "9780306406157" {
		t.Errorf("ISBN10To13 = %q, %v", isbn13, ok)
	}

	isbn10, ok := ISBN13To10("9780306406157")
	if !ok || isbn10 != "0306406152" {
		t.Errorf("ISBN13To10 = %q, %v", isbn10, ok)
	}

	if _, ok := ISBN13To10("9790306406157"); ok {
		t.Error("979-prefixed ISBN-13 should not convert to ISBN-10")
	}

	// Round trip through both conversions lands on the origin.
	rt10, _ := ISBN13To10(isbn13)
	if rt10 != "0306406152" {
		t.Errorf("round trip = %q", rt10)
	}
}

func TestTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"The Hobbit", "hobbit"},
		{"  A Wizard of Earthsea  ", "wizard of earthsea"},
		{"An Officer and a Spy", "officer and a spy"},
		{"Harry Potter & the Philosopher's Stone!", "harry potter the philosophers stone"},
		{"1984", "1984"},
		{"the", "the"}, // Bare article has no following space: kept.
		{"Dune:    Messiah", "dune messiah"},
	}
	for _, tt := range tests {
		if got := Title(tt.in); got != tt.want {
			t.Errorf("Title(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAuthorKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Gabriel García Márquez", "gabriel garcia marquez"},
		{"BRONTË,   Emily", "bronte emily"},
		{"J.R.R. Tolkien", "jrr tolkien"},
		{"  Ursula K. Le Guin ", "ursula k le guin"},
	}
	for _, tt := range tests {
		if got := AuthorKey(tt.in); got != tt.want {
			t.Errorf("AuthorKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	// Variants of the same name must collide.
	if AuthorKey("García Márquez, Gabriel") == AuthorKey("Garcia Marquez Gabriel") {
		return
	}
	t.Error("diacritic and punctuation variants should produce the same key")
}

func TestImageURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://covers.example.com/img/1.jpg?zoom=2&edge=curl", "https://covers.example.com/img/1.jpg"},
		{"https://covers.example.com/img/1.jpg", "https://covers.example.com/img/1.jpg"},
		{"not a url", "not a url"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ImageURL(tt.in); got != tt.want {
			t.Errorf("ImageURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSHA256Stable(t *testing.T) {
	a := SHA256("title,author\nDune,Frank Herbert\n")
	b := SHA256("title,author\nDune,Frank Herbert\n")
	if a != b {
		t.Error("SHA256 must be deterministic")
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64", len(a))
	}
}
