package guide

import (
	"encoding/xml"
	"io"
	"sort"
)

const xmltvTimeLayout = "20060102150405 -0700"

type outText struct {
	Value string `xml:",chardata"`
}

type outIcon struct {
	Src string `xml:"src,attr"`
}

type outChannel struct {
	ID      string   `xml:"id,attr"`
	Display *outText `xml:"display-name,omitempty"`
	Icon    *outIcon `xml:"icon,omitempty"`
}

type outEpisode struct {
	System string `xml:"system,attr"`
	Value  string `xml:",chardata"`
}

type outRating struct {
	Value string `xml:"value"`
}

type outProgramme struct {
	Start      string      `xml:"start,attr"`
	Stop       string      `xml:"stop,attr,omitempty"`
	Channel    string      `xml:"channel,attr"`
	Title      outText     `xml:"title"`
	SubTitle   *outText    `xml:"sub-title,omitempty"`
	Desc       *outText    `xml:"desc,omitempty"`
	Categories []outText   `xml:"category,omitempty"`
	Icon       *outIcon    `xml:"icon,omitempty"`
	Episode    *outEpisode `xml:"episode-num,omitempty"`
	Rating     *outRating  `xml:"rating,omitempty"`
}

func optText(s string) *outText {
	if s == "" {
		return nil
	}
	return &outText{Value: s}
}

// WriteXMLTV re-serializes the guide as XMLTV: declared channels in document
// order, each followed by its programmes in start order. keep, if non-nil,
// selects channels by id; programmes on undeclared channels are written only
// when keep accepts their id.
func (g *Guide) WriteXMLTV(w io.Writer, keep func(id string) bool) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	root := xml.StartElement{Name: xml.Name{Local: "tv"}, Attr: []xml.Attr{{Name: xml.Name{Local: "generator-info-name"}, Value: "iptv-guide"}}}
	if err := enc.EncodeToken(root); err != nil {
		return err
	}
	if g != nil {
		ids := g.exportIDs(keep)
		for _, id := range ids {
			ch, ok := g.channels[id]
			if !ok {
				continue
			}
			oc := outChannel{ID: ch.ID, Display: optText(ch.Name)}
			if ch.Icon != "" {
				oc.Icon = &outIcon{Src: ch.Icon}
			}
			if err := enc.EncodeElement(oc, xml.StartElement{Name: xml.Name{Local: "channel"}}); err != nil {
				return err
			}
		}
		for _, id := range ids {
			for _, p := range g.programs[id] {
				if err := enc.EncodeElement(programmeOut(p), xml.StartElement{Name: xml.Name{Local: "programme"}}); err != nil {
					return err
				}
			}
		}
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return err
	}
	return enc.Flush()
}

// exportIDs is declared channels in document order, then any channel ids that
// only appear on programmes (sorted for stable output).
func (g *Guide) exportIDs(keep func(string) bool) []string {
	var ids []string
	for _, id := range g.order {
		if keep == nil || keep(id) {
			ids = append(ids, id)
		}
	}
	var extra []string
	for id := range g.programs {
		if _, declared := g.channels[id]; declared {
			continue
		}
		if keep == nil || keep(id) {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	return append(ids, extra...)
}

func programmeOut(p Program) outProgramme {
	op := outProgramme{
		Start:    p.Start.Format(xmltvTimeLayout),
		Channel:  p.ChannelID,
		Title:    outText{Value: p.Title},
		SubTitle: optText(p.SubTitle),
		Desc:     optText(p.Description),
	}
	if !p.Stop.IsZero() {
		op.Stop = p.Stop.Format(xmltvTimeLayout)
	}
	cats := p.Categories
	if len(cats) == 0 && p.Category != "" {
		cats = []string{p.Category}
	}
	for _, c := range cats {
		op.Categories = append(op.Categories, outText{Value: c})
	}
	if p.Icon != "" {
		op.Icon = &outIcon{Src: p.Icon}
	}
	if p.Episode != "" {
		op.Episode = &outEpisode{System: "onscreen", Value: p.Episode}
	}
	if p.Rating != "" {
		op.Rating = &outRating{Value: p.Rating}
	}
	return op
}
