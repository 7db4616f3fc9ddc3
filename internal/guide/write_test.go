package guide

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRange_documentOrderAndStop(t *testing.T) {
	g, err := ParseBytes([]byte(sampleXMLTV))
	require.NoError(t, err)

	var seen []string
	g.Range(func(ch Channel) bool {
		seen = append(seen, ch.ID)
		return true
	})
	assert.Equal(t, []string{"bbc1", "espn-us"}, seen)

	seen = nil
	g.Range(func(ch Channel) bool {
		seen = append(seen, ch.ID)
		return false
	})
	assert.Equal(t, []string{"bbc1"}, seen)

	var nilGuide *Guide
	nilGuide.Range(func(Channel) bool { t.Fatal("called on nil guide"); return false })
}

func TestWriteXMLTV_roundTrip(t *testing.T) {
	g, err := ParseBytes([]byte(sampleXMLTV))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, g.WriteXMLTV(&buf, nil))
	assert.True(t, strings.HasPrefix(buf.String(), "<?xml"))
	assert.Contains(t, buf.String(), `Headlines &amp; more`)

	back, err := ParseBytes(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, g.ChannelIDs(), back.ChannelIDs())
	assert.Equal(t, g.ProgramCount(), back.ProgramCount())
	for _, id := range g.ChannelIDs() {
		a, b := g.Programs(id), back.Programs(id)
		require.Len(t, b, len(a), id)
		for i := range a {
			assert.Equal(t, a[i].Title, b[i].Title)
			assert.True(t, a[i].Start.Equal(b[i].Start))
			assert.True(t, a[i].Stop.Equal(b[i].Stop))
			assert.Equal(t, a[i].Description, b[i].Description)
			assert.Equal(t, a[i].Categories, b[i].Categories)
			assert.Equal(t, a[i].Episode, b[i].Episode)
			assert.Equal(t, a[i].Rating, b[i].Rating)
		}
	}
	bbc, _ := back.Channel("bbc1")
	assert.Equal(t, "http://logo/bbc1.png", bbc.Icon)
}

func TestWriteXMLTV_filter(t *testing.T) {
	g, err := ParseBytes([]byte(sampleXMLTV))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, g.WriteXMLTV(&buf, func(id string) bool { return id == "espn-us" }))
	back, err := ParseBytes(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{"espn-us"}, back.ChannelIDs())
	assert.Equal(t, 1, back.ProgramCount())
	assert.NotContains(t, buf.String(), "bbc1")
}

func TestWriteXMLTV_undeclaredChannel(t *testing.T) {
	b := NewBuilder()
	b.AddChannel(Channel{ID: "a", Name: "A"})
	p := sampleProgram("ghost", "Orphan")
	b.AddProgram(p)
	g := b.Build()

	var buf bytes.Buffer
	require.NoError(t, g.WriteXMLTV(&buf, nil))
	assert.Contains(t, buf.String(), `channel="ghost"`)
	assert.NotContains(t, buf.String(), `<channel id="ghost"`)
}

func TestWriteXMLTV_nilGuide(t *testing.T) {
	var g *Guide
	var buf bytes.Buffer
	require.NoError(t, g.WriteXMLTV(&buf, nil))
	assert.Contains(t, buf.String(), "<tv")
}

func sampleProgram(channel, title string) Program {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	return Program{ChannelID: channel, Title: title, Start: start, Stop: start.Add(30 * time.Minute)}
}
