package campaign

import (
	"encoding/json"
	"strings"
)

// UTM holds the five standard campaign parameters. An empty field means absent.
type UTM struct {
	Source   string `json:"utm_source,omitempty"`
	Medium   string `json:"utm_medium,omitempty"`
	Campaign string `json:"utm_campaign,omitempty"`
	Term     string `json:"utm_term,omitempty"`
	Content  string `json:"utm_content,omitempty"`
}

// UTMKeys lists the query parameter names in their canonical order.
var UTMKeys = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"}

// Normalize trims every field so that whitespace-only values become absent.
func (u UTM) Normalize() UTM {
	return UTM{
		Source:   strings.TrimSpace(u.Source),
		Medium:   strings.TrimSpace(u.Medium),
		Campaign: strings.TrimSpace(u.Campaign),
		Term:     strings.TrimSpace(u.Term),
		Content:  strings.TrimSpace(u.Content),
	}
}

// IsZero reports whether no parameter is set.
func (u UTM) IsZero() bool {
	return u == UTM{}
}

// Values returns the parameters in canonical order, aligned with UTMKeys.
func (u UTM) Values() []string {
	return []string{u.Source, u.Medium, u.Campaign, u.Term, u.Content}
}

// UTMFromLookup builds a UTM from any key lookup such as url.Values.Get.
func UTMFromLookup(get func(string) string) UTM {
	return UTM{
		Source:   get("utm_source"),
		Medium:   get("utm_medium"),
		Campaign: get("utm_campaign"),
		Term:     get("utm_term"),
		Content:  get("utm_content"),
	}.Normalize()
}

// Attribution is the optional attribution data carried inside a conversion payload.
type Attribution struct {
	CID string `json:"cid,omitempty"`
	UTM
	Referrer string `json:"referrer,omitempty"`
}

type payloadEnvelope struct {
	Attribution *Attribution `json:"attribution,omitempty"`
}

// DecodeAttribution reads the attribution object from a conversion payload.
// Missing or malformed payloads yield a zero Attribution.
func DecodeAttribution(payload json.RawMessage) Attribution {
	if len(payload) == 0 {
		return Attribution{}
	}

	var env payloadEnvelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Attribution == nil {
		return Attribution{}
	}

	a := *env.Attribution
	a.CID = strings.TrimSpace(a.CID)
	a.UTM = a.UTM.Normalize()
	a.Referrer = strings.TrimSpace(a.Referrer)

	return a
}

// EncodeAttribution stores a under the "attribution" key of payload, keeping other keys.
func EncodeAttribution(payload json.RawMessage, a Attribution) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, err
		}
	}

	encoded, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}

	fields["attribution"] = encoded

	return json.Marshal(fields)
}
