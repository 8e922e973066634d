package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const birthdayLayout = "2006-01-02"

// MaxSearchResults is the number of matches the catalog returns for a search.
// The service does not paginate search results.
const MaxSearchResults = 10

type showPayload struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Updated   int64  `json:"updated"`
	Externals struct {
		IMDB *string `json:"imdb"`
	} `json:"externals"`
	Embedded *struct {
		Cast []castPayload `json:"cast"`
	} `json:"_embedded"`
}

type castPayload struct {
	Person struct {
		ID       int     `json:"id"`
		Name     string  `json:"name"`
		Birthday *string `json:"birthday"`
	} `json:"person"`
}

type searchPayload struct {
	Score float64     `json:"score"`
	Show  showPayload `json:"show"`
}

// DecodeShow parses a single show document, including embedded cast when present.
func DecodeShow(body []byte) (Show, error) {
	var p showPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Show{}, fmt.Errorf("decode show: %w", err)
	}
	return p.toShow()
}

// DecodeCast parses a cast listing document.
func DecodeCast(body []byte) ([]CastMember, error) {
	var entries []castPayload
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode cast: %w", err)
	}
	return toCast(entries), nil
}

// DecodeSearch parses a search result document. At most MaxSearchResults shows
// are returned; search results never carry cast.
func DecodeSearch(body []byte) ([]Show, error) {
	var entries []searchPayload
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode search: %w", err)
	}
	if len(entries) > MaxSearchResults {
		entries = entries[:MaxSearchResults]
	}
	shows := make([]Show, 0, len(entries))
	for _, e := range entries {
		show, err := e.Show.toShow()
		if err != nil {
			continue
		}
		show.Cast = nil
		shows = append(shows, show)
	}
	return shows, nil
}

func (p showPayload) toShow() (Show, error) {
	if p.ID <= 0 {
		return Show{}, errors.New("show id must be > 0")
	}
	show := Show{
		ID:   p.ID,
		Name: strings.TrimSpace(p.Name),
	}
	if p.Updated > 0 {
		show.LastModified = time.Unix(p.Updated, 0).UTC()
	}
	if p.Externals.IMDB != nil {
		show.ExternalRatingID = strings.TrimSpace(*p.Externals.IMDB)
	}
	if p.Embedded != nil && p.Embedded.Cast != nil {
		show.Cast = toCast(p.Embedded.Cast)
	}
	return show, nil
}

func toCast(entries []castPayload) []CastMember {
	cast := make([]CastMember, 0, len(entries))
	for _, e := range entries {
		if e.Person.ID <= 0 {
			continue
		}
		cast = append(cast, CastMember{
			ID:        e.Person.ID,
			Name:      strings.TrimSpace(e.Person.Name),
			Birthdate: parseBirthday(e.Person.Birthday),
		})
	}
	return cast
}

func parseBirthday(raw *string) *time.Time {
	if raw == nil || *raw == "" {
		return nil
	}
	t, err := time.Parse(birthdayLayout, *raw)
	if err != nil {
		return nil
	}
	return &t
}
