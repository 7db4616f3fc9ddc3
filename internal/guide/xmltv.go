package guide

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"
)

type xmlText struct {
	Lang  string `xml:"lang,attr"`
	Value string `xml:",chardata"`
}

type xmlIcon struct {
	Src string `xml:"src,attr"`
}

type xmlChannelNode struct {
	ID           string    `xml:"id,attr"`
	DisplayNames []xmlText `xml:"display-name"`
	Icons        []xmlIcon `xml:"icon"`
}

type xmlEpisodeNum struct {
	System string `xml:"system,attr"`
	Value  string `xml:",chardata"`
}

type xmlRating struct {
	Value string `xml:"value"`
}

type xmlProgrammeNode struct {
	Channel    string          `xml:"channel,attr"`
	Start      string          `xml:"start,attr"`
	Stop       string          `xml:"stop,attr"`
	Titles     []xmlText       `xml:"title"`
	SubTitles  []xmlText       `xml:"sub-title"`
	Descs      []xmlText       `xml:"desc"`
	Categories []xmlText       `xml:"category"`
	Icons      []xmlIcon       `xml:"icon"`
	EpisodeNum []xmlEpisodeNum `xml:"episode-num"`
	Ratings    []xmlRating     `xml:"rating"`
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(data []byte) (*Guide, error) {
	return Parse(bytes.NewReader(data))
}

// Parse reads an XMLTV document and returns a Guide whose per-channel
// programme lists are sorted by start. The whole document must parse; there is
// no partial result.
func Parse(r io.Reader) (*Guide, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	// Guides in the wild carry HTML entities (&nbsp;) in titles and descriptions.
	dec.Strict = false
	dec.Entity = xml.HTMLEntity

	b := NewBuilder()
	var sawRoot bool
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, malformed(err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Local != "tv" {
			return nil, malformed(fmt.Errorf("unexpected root <%s>", se.Name.Local))
		}
		sawRoot = true
		if err := parseRoot(dec, b); err != nil {
			return nil, err
		}
		break
	}
	if !sawRoot {
		return nil, malformed(errors.New("root <tv> not found"))
	}
	if b.empty() {
		return nil, &ParseError{Kind: ParseEmpty}
	}
	return b.Build(), nil
}

func parseRoot(dec *xml.Decoder, b *Builder) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return malformed(errors.New("unexpected end of document inside <tv>"))
			}
			return malformed(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "channel":
				var node xmlChannelNode
				if err := dec.DecodeElement(&node, &t); err != nil {
					return malformed(err)
				}
				b.AddChannel(channelFromNode(node))
			case "programme":
				var node xmlProgrammeNode
				if err := dec.DecodeElement(&node, &t); err != nil {
					return malformed(err)
				}
				p, ok := programFromNode(node)
				if !ok {
					b.skip()
					continue
				}
				b.AddProgram(p)
			default:
				if err := dec.Skip(); err != nil {
					return malformed(err)
				}
			}
		case xml.EndElement:
			if t.Name.Local == "tv" {
				return nil
			}
		}
	}
}

func channelFromNode(n xmlChannelNode) Channel {
	ch := Channel{
		ID:   strings.TrimSpace(n.ID),
		Name: firstText(n.DisplayNames),
	}
	for _, ic := range n.Icons {
		if src := strings.TrimSpace(ic.Src); src != "" {
			ch.Icon = src
			break
		}
	}
	return ch
}

func programFromNode(n xmlProgrammeNode) (Program, bool) {
	start, err := ParseTime(n.Start)
	if err != nil {
		return Program{}, false
	}
	stop, err := ParseTime(n.Stop)
	if err != nil {
		return Program{}, false
	}
	p := Program{
		ChannelID:   strings.TrimSpace(n.Channel),
		Title:       firstText(n.Titles),
		SubTitle:    firstText(n.SubTitles),
		Description: firstText(n.Descs),
		Start:       start,
		Stop:        stop,
	}
	for _, c := range n.Categories {
		if v := strings.TrimSpace(c.Value); v != "" {
			p.Categories = append(p.Categories, v)
		}
	}
	if len(p.Categories) > 0 {
		p.Category = p.Categories[0]
	}
	for _, ic := range n.Icons {
		if src := strings.TrimSpace(ic.Src); src != "" {
			p.Icon = src
			break
		}
	}
	p.Episode = episodeFromNodes(n.EpisodeNum)
	for _, r := range n.Ratings {
		if v := strings.TrimSpace(r.Value); v != "" {
			p.Rating = v
			break
		}
	}
	return p, true
}

func firstText(vals []xmlText) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v.Value); s != "" {
			return s
		}
	}
	return ""
}

// episodeFromNodes prefers an "onscreen" value and falls back to xmltv_ns.
func episodeFromNodes(eps []xmlEpisodeNum) string {
	var ns string
	for _, ep := range eps {
		v := strings.TrimSpace(ep.Value)
		if v == "" {
			continue
		}
		switch ep.System {
		case "onscreen":
			return v
		case "xmltv_ns":
			if ns == "" {
				ns = formatXMLTVNS(v)
			}
		}
	}
	return ns
}

// formatXMLTVNS converts zero-based "season.episode.part" to SxxEyy.
func formatXMLTVNS(s string) string {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return s
	}
	season := leadingInt(parts[0])
	episode := leadingInt(strings.SplitN(parts[1], "/", 2)[0])
	switch {
	case season >= 0 && episode >= 0:
		return fmt.Sprintf("S%02dE%02d", season+1, episode+1)
	case episode >= 0:
		return fmt.Sprintf("E%02d", episode+1)
	}
	return s
}

// leadingInt parses a trimmed non-negative integer, or -1.
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return -1
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return -1
	}
	return n
}
