package catalog

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const showWithCast = `{
  "id": 1,
  "name": "Under the Dome",
  "updated": 1700000000,
  "externals": {"imdb": "tt1553656"},
  "_embedded": {"cast": [
    {"person": {"id": 7, "name": "Mike Vogel", "birthday": "1979-07-17"}},
    {"person": {"id": 9, "name": "Rachelle Lefevre", "birthday": null}}
  ]}
}`

func TestDecodeShowWithEmbeddedCast(t *testing.T) {
	t.Parallel()

	show, err := DecodeShow([]byte(showWithCast))
	require.NoError(t, err)
	require.Equal(t, 1, show.ID)
	require.Equal(t, "Under the Dome", show.Name)
	require.Equal(t, "tt1553656", show.ExternalRatingID)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), show.LastModified)
	require.True(t, show.HasCast())
	require.Len(t, show.Cast, 2)
	require.Equal(t, "1979-07-17", show.Cast[0].Birthdate.Format("2006-01-02"))
	require.Nil(t, show.Cast[1].Birthdate)
}

func TestDecodeShowWithoutCast(t *testing.T) {
	t.Parallel()

	show, err := DecodeShow([]byte(`{"id":2,"name":"Person of Interest","externals":{"imdb":null}}`))
	require.NoError(t, err)
	require.False(t, show.HasCast())
	require.Empty(t, show.ExternalRatingID)
}

func TestDecodeShowRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := DecodeShow([]byte(`not json`))
	require.Error(t, err)
	_, err = DecodeShow([]byte(`{"name":"no id"}`))
	require.Error(t, err)
}

func TestDecodeCast(t *testing.T) {
	t.Parallel()

	cast, err := DecodeCast([]byte(`[{"person":{"id":3,"name":"A","birthday":"bad-date"}}]`))
	require.NoError(t, err)
	require.Len(t, cast, 1)
	require.Nil(t, cast[0].Birthdate)

	empty, err := DecodeCast([]byte(`[]`))
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestDecodeSearchTruncatesAndDropsCast(t *testing.T) {
	t.Parallel()

	entries := make([]string, 0, 12)
	for i := 1; i <= 12; i++ {
		entries = append(entries, fmt.Sprintf(
			`{"score":1,"show":{"id":%d,"name":"S%d","_embedded":{"cast":[]}}}`, i, i))
	}
	shows, err := DecodeSearch([]byte("[" + strings.Join(entries, ",") + "]"))
	require.NoError(t, err)
	require.Len(t, shows, MaxSearchResults)
	for _, s := range shows {
		require.False(t, s.HasCast())
	}
}
