package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapleads/internal/model"
)

func TestParseRating(t *testing.T) {
	cases := []struct {
		in      string
		rating  string
		reviews string
	}{
		{"4.9(1,162)", "4.9", "1162"},
		{"4.5 (23)", "4.5", "23"},
		{"5.0(7)", "5.0", "7"},
		{"no rating yet", "", ""},
		{"", "", ""},
	}
	for _, c := range cases {
		rating, reviews := parseRating(c.in)
		assert.Equal(t, c.rating, rating, "rating for %q", c.in)
		assert.Equal(t, c.reviews, reviews, "reviews for %q", c.in)
	}
}

func TestClassifyDetailsPhoneAndAddress(t *testing.T) {
	phone, address := classifyDetails([]string{
		"Plumber · 1515 W Koenig Ln",
		"Open 24 hours · (512) 555-0184",
	})
	assert.Equal(t, "(512) 555-0184", phone)
	assert.Equal(t, "1515 W Koenig Ln", address)
}

func TestClassifyDetailsExcisesPhoneFromMixedToken(t *testing.T) {
	// Phone and address collapsed into one token: the phone is carved
	// out and the remainder offered as the address.
	phone, address := classifyDetails([]string{
		"1515 W Koenig Ln (512) 555-0184",
	})
	assert.Equal(t, "(512) 555-0184", phone)
	assert.Equal(t, "1515 W Koenig Ln", address)
}

func TestClassifyDetailsRejectsNonAddressNoise(t *testing.T) {
	phone, address := classifyDetails([]string{
		"4.9 (12) · Opens 9 AM Mon",
		"Temporarily closed until 2025",
		"12345",
	})
	assert.Empty(t, phone)
	assert.Empty(t, address)
}

func TestClassifyDetailsStripsHoursNoise(t *testing.T) {
	_, address := classifyDetails([]string{"Open 24 Hours 1515 W Koenig Ln"})
	assert.Equal(t, "1515 W Koenig Ln", address)
}

func TestHasStreetSuffixMatchesWholeWordsOnly(t *testing.T) {
	for _, s := range []string{
		"123 Main St",
		"1515 W Koenig Ln",
		"4200 Airport Blvd.",
		"Building 4, Floor 2",
	} {
		assert.True(t, hasStreetSuffix(s), s)
	}
	// A suffix buried inside a word is not an address hint.
	for _, s := range []string{
		"Astoria",
		"Best service in town",
		"Blvdvale",
		"Groundwork",
	} {
		assert.False(t, hasStreetSuffix(s), s)
	}
}

func TestPickWebsiteFallbackChain(t *testing.T) {
	authority := []rawLink{
		{Href: "https://maps.google.com/x", Label: "Directions"},
		{Href: "https://acmeplumbing.com", Label: "", ItemID: "authority"},
	}
	assert.Equal(t, "https://acmeplumbing.com", pickWebsite(authority))

	byLabel := []rawLink{
		{Href: "https://maps.google.com/x", Label: "Directions"},
		{Href: "https://acmeplumbing.com", Label: "Visit Acme's Website"},
	}
	assert.Equal(t, "https://acmeplumbing.com", pickWebsite(byLabel))

	external := []rawLink{
		{Href: "https://www.google.com/maps/place/acme", Label: ""},
		{Href: "https://acmeplumbing.com/home", Label: ""},
	}
	assert.Equal(t, "https://acmeplumbing.com/home", pickWebsite(external))

	assert.Empty(t, pickWebsite([]rawLink{{Href: "https://google.com/ads", Label: ""}}))
}

func TestBuildRecordsDiscardsUnnamedAndDeduplicates(t *testing.T) {
	job := model.ScrapeJob{Niche: "plumber", Location: "Austin"}
	cards := []rawCard{
		{Name: "Acme Plumbing", Link: "https://maps/place/acme", RatingText: "4.9(12)"},
		{Name: "", Link: "https://maps/place/ghost"},
		{Name: "Acme Plumbing", Link: "https://maps/place/acme"},
		{Name: "Austin Pipe Co", Link: "https://maps/place/pipe",
			DetailLines: []string{"Plumber · (512) 555-0100"}},
	}

	records := buildRecords(cards, job)
	require.Len(t, records, 2)

	assert.Equal(t, "Acme Plumbing", records[0].Name)
	assert.Equal(t, "plumber", records[0].Category)
	assert.Equal(t, "4.9", records[0].Rating)
	assert.Equal(t, "12", records[0].Reviews)
	assert.Empty(t, records[0].Email)

	assert.Equal(t, "Austin Pipe Co", records[1].Name)
	assert.Equal(t, "(512) 555-0100", records[1].Phone)
}

func TestApplyDetailInfoFillsOnlyMissingFields(t *testing.T) {
	rec := &listRecord{BusinessRecord: model.BusinessRecord{
		Name:  "Acme Plumbing",
		Phone: "(512) 555-0184",
	}}

	applyDetailInfo(rec, detailInfo{
		Phone:   "(512) 555-9999",
		Website: "https://acmeplumbing.com",
		Address: "1515 W Koenig Ln, Austin, TX",
		Owner:   "https://business.google.com/owner",
	})

	assert.Equal(t, "(512) 555-0184", rec.Phone, "existing phone must not be overwritten")
	assert.Equal(t, "https://acmeplumbing.com", rec.Website)
	assert.Equal(t, "1515 W Koenig Ln, Austin, TX", rec.Address)
	assert.Equal(t, "https://business.google.com/owner", rec.Owner)
}

func TestApplyDetailInfoRejectsImplausibleValues(t *testing.T) {
	rec := &listRecord{BusinessRecord: model.BusinessRecord{Name: "Acme"}}

	applyDetailInfo(rec, detailInfo{
		Phone:   "call us",
		Address: "nearby",
	})

	assert.Empty(t, rec.Phone)
	assert.Empty(t, rec.Address)
}
