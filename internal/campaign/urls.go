package campaign

import (
	"net/url"
	"strings"
)

// LandingPath returns the landing page path for a target and variant.
// Legacy webinar targets always land on the live page.
func LandingPath(target Target, variant Variant) string {
	if target.Kind == TargetWebinar {
		return "/webinar/" + url.PathEscape(target.ID) + "/live"
	}

	base := "/event/" + url.PathEscape(target.Slug)

	switch variant {
	case VariantRegister:
		return base + "/register"
	case VariantSurvey:
		return base + "/survey"
	default:
		return base
	}
}

// ShareURL builds the plain share URL carrying only the CID.
func ShareURL(base string, target Target, variant Variant, cid string) string {
	return buildURL(base, target, variant, cid, UTM{})
}

// CampaignURL builds the share URL with the link's UTM parameters appended after the CID.
func CampaignURL(base string, target Target, variant Variant, cid string, utm UTM) string {
	return buildURL(base, target, variant, cid, utm)
}

func buildURL(base string, target Target, variant Variant, cid string, utm UTM) string {
	var b strings.Builder

	b.WriteString(strings.TrimRight(base, "/"))
	b.WriteString(LandingPath(target, variant))

	sep := "?"
	appendParam := func(key, value string) {
		if value == "" {
			return
		}

		b.WriteString(sep)
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(value))

		sep = "&"
	}

	appendParam("cid", cid)

	for i, v := range utm.Values() {
		appendParam(UTMKeys[i], v)
	}

	return b.String()
}
