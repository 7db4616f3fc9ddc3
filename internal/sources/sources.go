// Package sources holds the guide source catalog (built-in and user-added
// entries) and the sqlite store for settings and custom sources.
package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gookit/validate"

	"github.com/snapetech/iptvguide/internal/safeurl"
)

var (
	ErrNotFound  = errors.New("source not found")
	ErrImmutable = errors.New("built-in sources cannot be modified")
	ErrInvalid   = errors.New("invalid source")
)

// Descriptor is one catalog entry. Built-ins have IsCustom false and are
// immutable.
type Descriptor struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name" validate:"required|maxLen:120"`
	URL         string `json:"url" yaml:"url" validate:"required|fullUrl"`
	Region      string `json:"region,omitempty" yaml:"region" validate:"maxLen:32"`
	Description string `json:"description,omitempty" yaml:"description" validate:"maxLen:500"`
	IsCustom    bool   `json:"is_custom" yaml:"-"`
}

// Builtins is the default catalog when the config file supplies none.
var Builtins = []Descriptor{
	{ID: "epgpw-us", Name: "EPG.pw United States", URL: "https://epg.pw/xmltv/epg_US.xml.gz", Region: "US"},
	{ID: "epgpw-gb", Name: "EPG.pw United Kingdom", URL: "https://epg.pw/xmltv/epg_GB.xml.gz", Region: "UK"},
	{ID: "epgpw-ca", Name: "EPG.pw Canada", URL: "https://epg.pw/xmltv/epg_CA.xml.gz", Region: "CA"},
	{ID: "pluto-us", Name: "Pluto TV", URL: "https://i.mjh.nz/PlutoTV/us.xml.gz", Region: "US", Description: "Free ad-supported channels"},
	{ID: "samsung-us", Name: "Samsung TV Plus", URL: "https://i.mjh.nz/SamsungTVPlus/us.xml.gz", Region: "US", Description: "Free ad-supported channels"},
}

// Validate checks name and URL. Errors wrap ErrInvalid.
func Validate(d Descriptor) error {
	d.Name = strings.TrimSpace(d.Name)
	d.URL = strings.TrimSpace(d.URL)
	v := validate.Struct(&d)
	if !v.Validate() {
		return fmt.Errorf("%w: %s", ErrInvalid, v.Errors.One())
	}
	if !safeurl.IsHTTPOrHTTPS(d.URL) {
		return fmt.Errorf("%w: url must be http or https", ErrInvalid)
	}
	return nil
}

// CustomStore persists user-added entries.
type CustomStore interface {
	LoadCustom(ctx context.Context) ([]Descriptor, error)
	SaveCustom(ctx context.Context, d Descriptor) error
	DeleteCustom(ctx context.Context, id string) error
}

// Catalog is safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	builtins []Descriptor
	custom   []Descriptor
	store    CustomStore
}

// NewCatalog copies builtins (nil means Builtins). store may be nil, in which
// case custom entries live only in memory.
func NewCatalog(builtins []Descriptor, store CustomStore) *Catalog {
	if builtins == nil {
		builtins = Builtins
	}
	c := &Catalog{store: store}
	for _, d := range builtins {
		d.IsCustom = false
		if d.ID == "" {
			d.ID = slug(d.Name)
		}
		c.builtins = append(c.builtins, d)
	}
	return c
}

// Load replaces the custom entries with the store's contents.
func (c *Catalog) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	custom, err := c.store.LoadCustom(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.custom = custom
	c.mu.Unlock()
	return nil
}

// List returns built-ins followed by custom entries.
func (c *Catalog) List() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Descriptor, 0, len(c.builtins)+len(c.custom))
	out = append(out, c.builtins...)
	return append(out, c.custom...)
}

func (c *Catalog) Get(id string) (Descriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if d, ok := find(c.builtins, id); ok {
		return c.builtins[d], nil
	}
	if d, ok := find(c.custom, id); ok {
		return c.custom[d], nil
	}
	return Descriptor{}, ErrNotFound
}

// FindByURL returns the first entry whose URL equals u.
func (c *Catalog) FindByURL(u string) (Descriptor, bool) {
	for _, d := range c.List() {
		if d.URL == u {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Add validates d, assigns a fresh id and stores it as a custom entry.
func (c *Catalog) Add(ctx context.Context, d Descriptor) (Descriptor, error) {
	d = clean(d)
	if err := Validate(d); err != nil {
		return Descriptor{}, err
	}
	d.ID = uuid.NewString()
	d.IsCustom = true
	if c.store != nil {
		if err := c.store.SaveCustom(ctx, d); err != nil {
			return Descriptor{}, err
		}
	}
	c.mu.Lock()
	c.custom = append(c.custom, d)
	c.mu.Unlock()
	return d, nil
}

// Update replaces the fields of custom entry id.
func (c *Catalog) Update(ctx context.Context, id string, d Descriptor) (Descriptor, error) {
	d = clean(d)
	if err := Validate(d); err != nil {
		return Descriptor{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := find(c.builtins, id); ok {
		return Descriptor{}, ErrImmutable
	}
	i, ok := find(c.custom, id)
	if !ok {
		return Descriptor{}, ErrNotFound
	}
	d.ID, d.IsCustom = id, true
	if c.store != nil {
		if err := c.store.SaveCustom(ctx, d); err != nil {
			return Descriptor{}, err
		}
	}
	c.custom[i] = d
	return d, nil
}

func (c *Catalog) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := find(c.builtins, id); ok {
		return ErrImmutable
	}
	i, ok := find(c.custom, id)
	if !ok {
		return ErrNotFound
	}
	if c.store != nil {
		if err := c.store.DeleteCustom(ctx, id); err != nil {
			return err
		}
	}
	c.custom = append(c.custom[:i:i], c.custom[i+1:]...)
	return nil
}

func find(ds []Descriptor, id string) (int, bool) {
	for i, d := range ds {
		if d.ID == id {
			return i, true
		}
	}
	return 0, false
}

func clean(d Descriptor) Descriptor {
	d.Name = strings.TrimSpace(d.Name)
	d.URL = strings.TrimSpace(d.URL)
	d.Region = strings.TrimSpace(d.Region)
	d.Description = strings.TrimSpace(d.Description)
	return d
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
		} else if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
