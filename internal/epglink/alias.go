package epglink

import (
	"io"
	"strings"

	"github.com/goccy/go-json"

	"github.com/snapetech/iptvguide/internal/guide"
)

// AliasOverrides pins playlist names to guide ids when no tier gets them
// right on its own.
type AliasOverrides struct {
	// Map of normalized playlist channel name -> guide channel id.
	NameToGuideID map[string]string `json:"name_to_guide_id,omitempty"`
}

func LoadAliasOverrides(r io.Reader) (AliasOverrides, error) {
	var out AliasOverrides
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return AliasOverrides{}, err
	}
	norm := make(map[string]string, len(out.NameToGuideID))
	for k, v := range out.NameToGuideID {
		nk := NormalizeName(k)
		if nk == "" || strings.TrimSpace(v) == "" {
			continue
		}
		norm[nk] = strings.TrimSpace(v)
	}
	out.NameToGuideID = norm
	return out, nil
}

func (a AliasOverrides) Tier() Tier {
	return Tier{Method: MethodAlias, Match: func(k Key, ch guide.Channel) bool {
		for _, n := range k.Names {
			if id, ok := a.NameToGuideID[n]; ok && id == ch.ID {
				return true
			}
		}
		return false
	}}
}
