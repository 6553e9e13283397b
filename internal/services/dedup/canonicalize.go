package dedup

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"github.com/lithium-07/dedup-webset/internal/common"
	"github.com/lithium-07/dedup-webset/internal/models"
)

// genericSubdomains are subdomains that carry no organizational identity;
// hosts under them classify as SubdomainGeneric.
var genericSubdomains = map[string]bool{
	"":       true,
	"www":    true,
	"m":      true,
	"mobile": true,
	"web":    true,
	"app":    true,
}

// organizationalSubdomains name a part of the same organization rather than a
// distinct property; they pair with generic subdomains in the subdomain
// similarity rule.
var organizationalSubdomains = map[string]bool{
	"corp":      true,
	"corporate": true,
	"about":     true,
	"careers":   true,
	"jobs":      true,
	"team":      true,
	"company":   true,
	"ir":        true,
	"investors": true,
}

// videoPlatforms are registrable domains where distinct titles share a host,
// so Tier-0 keys switch to the video:<slug> form.
var videoPlatforms = map[string]bool{
	"youtube.com":     true,
	"youtu.be":        true,
	"vimeo.com":       true,
	"dailymotion.com": true,
	"twitch.tv":       true,
	"tiktok.com":      true,
}

var (
	nameAllowedRe  = regexp.MustCompile(`[^a-zA-Z0-9 \-&.,()]+`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
	slugStripRe    = regexp.MustCompile(`[^a-z0-9]+`)
	brandStripRe   = regexp.MustCompile(`[0-9\-_.]+`)
	urlLikeRe      = regexp.MustCompile(`^https?://`)
	htmlMarkupRe   = regexp.MustCompile(`[<&]`)
)

// Canonicalize derives the canonical row for a raw item. Never fails: missing
// or invalid fields yield empty derived values that downstream rules tolerate.
func Canonicalize(item models.Item, mode models.Mode) *models.CanonicalRow {
	rowID := item.ID()
	if rowID == "" {
		rowID = common.NewRowID()
	}

	rawURL := ExtractURL(item)
	host, etld1, brand, sub, subCls := hostParts(rawURL)

	name := CleanName(ExtractName(item, mode))
	if name == "" && etld1 != "" {
		name = Slugify(etld1)
	}

	row := &models.CanonicalRow{
		RowID:           rowID,
		Name:            name,
		URL:             rawURL,
		Host:            host,
		ETLD1:           etld1,
		Brand:           brand,
		Subdomain:       sub,
		SubClass:        subCls,
		IsVideoPlatform: videoPlatforms[etld1],
		Raw:             item,
	}
	if mode == models.ModeEntity || row.IsVideoPlatform {
		row.NormalizedTitle = NormalizeTitle(name)
	}
	return row
}

// ExtractURL picks the item's URL by priority: properties.url, top-level url,
// any nested {url|website} inside properties, then source when it looks like
// a URL.
func ExtractURL(item models.Item) string {
	props := item.Properties()
	if props != nil {
		if u := stringField(props, "url"); u != "" {
			return u
		}
	}
	if u := stringField(item, "url"); u != "" {
		return u
	}
	if props != nil {
		for _, v := range props {
			nested, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			if u := stringField(nested, "url"); u != "" {
				return u
			}
			if u := stringField(nested, "website"); u != "" {
				return u
			}
		}
	}
	if src := stringField(item, "source"); urlLikeRe.MatchString(src) {
		return src
	}
	return ""
}

// ExtractName picks the display name. Entity mode prefers titles, company
// mode prefers names; both fall through nested objects.
func ExtractName(item models.Item, mode models.Mode) string {
	props := item.Properties()

	var direct []string
	if mode == models.ModeEntity {
		direct = []string{"title", "name"}
	} else {
		direct = []string{"name", "title"}
	}

	for _, key := range direct {
		if v := stringField(item, key); v != "" {
			return v
		}
	}
	for _, key := range direct {
		if v := stringField(props, key); v != "" {
			return v
		}
	}

	if mode == models.ModeCompany {
		if company, ok := props["company"].(map[string]interface{}); ok {
			if v := stringField(company, "name"); v != "" {
				return v
			}
		}
	}

	nestedKeys := []string{"title", "name"}
	if mode == models.ModeCompany {
		nestedKeys = []string{"name", "title", "company_name"}
	}
	for _, v := range props {
		nested, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		for _, key := range nestedKeys {
			if s := stringField(nested, key); s != "" {
				return s
			}
		}
	}
	return ""
}

// CleanName strips HTML markup and entities, keeps alphanumerics, spaces and
// -&.,() and collapses whitespace.
func CleanName(name string) string {
	if name == "" {
		return ""
	}
	if htmlMarkupRe.MatchString(name) {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(name)); err == nil {
			name = doc.Text()
		}
	}
	name = nameAllowedRe.ReplaceAllString(name, " ")
	name = whitespaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// Slugify lowercases and reduces a string to hyphen-separated alphanumerics.
func Slugify(s string) string {
	s = strings.ToLower(s)
	s = slugStripRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Tier0Key computes the deterministic fingerprint for a canonical row:
// brand:etld1:subCls, or video:<name-slug> on video platforms so distinct
// titles on the same platform do not collapse.
func Tier0Key(row *models.CanonicalRow) string {
	if row.IsVideoPlatform {
		return "video:" + Slugify(row.Name)
	}
	return row.Brand + ":" + row.ETLD1 + ":" + string(row.SubClass)
}

// HostOf extracts the lowercased hostname from a raw URL, or "".
func HostOf(rawURL string) string {
	host, _, _, _, _ := hostParts(rawURL)
	return host
}

// IsOrganizationalSubdomain reports whether sub names a part of the same
// organization (corp, careers, ...).
func IsOrganizationalSubdomain(sub string) bool {
	return organizationalSubdomains[sub]
}

func hostParts(rawURL string) (host, etld1, brand, sub string, subCls models.SubdomainClass) {
	subCls = models.SubdomainOther
	if rawURL == "" {
		return "", "", "", "", subCls
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return "", "", "", "", subCls
	}
	host = strings.ToLower(parsed.Hostname())

	etld1, err = publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		etld1 = host
	}

	suffix, _ := publicsuffix.PublicSuffix(host)
	label := strings.TrimSuffix(etld1, "."+suffix)
	brand = brandStripRe.ReplaceAllString(strings.ToLower(label), "")

	sub = strings.TrimSuffix(host, etld1)
	sub = strings.TrimSuffix(sub, ".")
	if genericSubdomains[sub] {
		subCls = models.SubdomainGeneric
	}
	return host, etld1, brand, sub, subCls
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
