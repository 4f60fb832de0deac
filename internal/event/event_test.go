package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/parsera-labs/dispatch/internal/model"
)

func testCrawler() model.Crawler {
	return model.Crawler{
		ID:        uuid.New(),
		Name:      "price-watch",
		UserID:    uuid.New(),
		TimerRule: "0 0 * * * *",
		Priority:  model.PriorityCommon,
		Notification: model.NotificationOptions{
			Level: model.NotifyJobsDone,
			Via:   []model.NotifyChannel{{Kind: "email", Address: "user@example.com"}},
		},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
		Site: model.Site{
			ID:        uuid.New(),
			Domain:    "example.com",
			StartPage: "https://example.com/products",
			PageXPaths: map[string]string{
				"price": "//span[@class='price']",
			},
			PaginationXPaths: map[string]string{
				"next": "//a[@rel='next']",
			},
		},
	}
}

func testPage() model.Page {
	c := testCrawler()
	return model.StartPage(c)
}

func TestEnvelope_WireFormat(t *testing.T) {
	t.Parallel()
	e := NewInternal(CommandScrapePage, StatusPending, testPage())

	b, err := e.Encode()
	require.NoError(t, err)

	// The status rides under the command tag, the payload under its variant tag.
	var raw map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &raw))
	require.Contains(t, raw["command"], "scrape_page")
	require.JSONEq(t, `"pending"`, string(raw["command"]["scrape_page"]))
	require.Contains(t, raw["data"], "internal")
}

func TestEnvelope_RoundTrip(t *testing.T) {
	t.Parallel()
	in := NewExternal(CommandRegisterCrawler, StatusPending, testCrawler())

	b, err := in.Encode()
	require.NoError(t, err)

	out, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, in.Command, out.Command)
	require.Equal(t, in.Status, out.Status)
	require.NotNil(t, out.Data.External)
	require.Nil(t, out.Data.Internal)
	require.Equal(t, in.Data.External.ID, out.Data.External.ID)
	require.Equal(t, in.Data.External.Site.Domain, out.Data.External.Site.Domain)
}

func TestDecode_RejectsUnknownTags(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"unknown command":  `{"command":{"dance":"pending"},"data":{"internal":{}}}`,
		"unknown status":   `{"command":{"scrape_page":"maybe"},"data":{"internal":{}}}`,
		"unknown data tag": `{"command":{"scrape_page":"pending"},"data":{"sideways":{}}}`,
		"two command tags": `{"command":{"scrape_page":"pending","sleep":"pending"},"data":{"internal":{}}}`,
		"empty command":    `{"command":{},"data":{"internal":{}}}`,
		"empty data":       `{"command":{"scrape_page":"pending"},"data":{}}`,
		"not json":         `scrape please`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode([]byte(payload))
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestValidate_PayloadShape(t *testing.T) {
	t.Parallel()

	// register_crawler with an internal payload is a protocol violation.
	mismatch := NewInternal(CommandRegisterCrawler, StatusPending, testPage())
	require.ErrorIs(t, mismatch.Validate(), ErrPayloadShape)

	// Internal commands must not carry a crawler definition.
	mismatch = NewExternal(CommandScrapePage, StatusDone, testCrawler())
	require.ErrorIs(t, mismatch.Validate(), ErrPayloadShape)

	require.NoError(t, NewExternal(CommandRegisterCrawler, StatusPending, testCrawler()).Validate())
	require.NoError(t, NewInternal(CommandExtractPage, StatusDone, testPage()).Validate())
}

func TestValidate_RequiresExactlyOnePayload(t *testing.T) {
	t.Parallel()
	e := Envelope{Command: CommandScrapePage, Status: StatusPending}
	require.ErrorIs(t, e.Validate(), ErrMalformed)

	c := testCrawler()
	p := testPage()
	e = Envelope{
		Command: CommandScrapePage,
		Status:  StatusPending,
		Data:    Data{External: &c, Internal: &p},
	}
	require.ErrorIs(t, e.Validate(), ErrMalformed)
}

func TestNewScrapeEvent_SynthesizesStartPage(t *testing.T) {
	t.Parallel()
	c := testCrawler()
	e := NewScrapeEvent(c)

	require.Equal(t, CommandScrapePage, e.Command)
	require.Equal(t, StatusPending, e.Status)
	require.NoError(t, e.Validate())

	p := e.Data.Internal
	require.NotNil(t, p)
	require.Equal(t, c.ID, p.CrawlerID)
	require.Equal(t, c.Site.ID, p.SiteID)
	require.Equal(t, c.Site.StartPage, p.URL)
	require.Equal(t, c.Site.Domain, p.Domain)
	require.Equal(t, c.Site.PageXPaths, p.XPaths)
	require.Equal(t, c.Priority, p.Priority)
	require.False(t, p.IsPagination)
	require.Zero(t, p.TimesReparsed)
	require.NotEqual(t, uuid.Nil, p.ID)
}
