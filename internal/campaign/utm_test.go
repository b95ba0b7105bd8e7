package campaign_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/serroba/campaign-attribution/internal/campaign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUTM_Normalize(t *testing.T) {
	utm := campaign.UTM{Source: "  google ", Medium: "   ", Campaign: "spring"}.Normalize()

	assert.Equal(t, "google", utm.Source)
	assert.Empty(t, utm.Medium)
	assert.Equal(t, "spring", utm.Campaign)
	assert.False(t, utm.IsZero())
	assert.True(t, campaign.UTM{Term: " "}.Normalize().IsZero())
}

func TestDecodeAttribution(t *testing.T) {
	t.Run("reads nested attribution object", func(t *testing.T) {
		payload := json.RawMessage(`{"answers":[1,2],"attribution":{"cid":" ab12cd34 ","utm_source":"newsletter","referrer":"https://mail.google.com/"}}`)

		a := campaign.DecodeAttribution(payload)

		assert.Equal(t, "ab12cd34", a.CID)
		assert.Equal(t, "newsletter", a.Source)
		assert.Equal(t, "https://mail.google.com/", a.Referrer)
	})

	t.Run("tolerates empty and malformed payloads", func(t *testing.T) {
		assert.Equal(t, campaign.Attribution{}, campaign.DecodeAttribution(nil))
		assert.Equal(t, campaign.Attribution{}, campaign.DecodeAttribution(json.RawMessage(`not json`)))
		assert.Equal(t, campaign.Attribution{}, campaign.DecodeAttribution(json.RawMessage(`{"other":true}`)))
	})
}

func TestEncodeAttribution(t *testing.T) {
	payload := json.RawMessage(`{"answers":{"q1":"yes"}}`)

	out, err := campaign.EncodeAttribution(payload, campaign.Attribution{CID: "zz99yy88", UTM: campaign.UTM{Medium: "email"}})

	require.NoError(t, err)
	assert.JSONEq(t, `{"answers":{"q1":"yes"},"attribution":{"cid":"zz99yy88","utm_medium":"email"}}`, string(out))
	assert.Equal(t, "zz99yy88", campaign.DecodeAttribution(out).CID)
}

func TestWindow(t *testing.T) {
	day := time.Date(2025, 3, 9, 17, 45, 0, 0, time.FixedZone("KST", 9*3600))

	bucket := campaign.DayBucket(day)
	assert.Equal(t, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), bucket)

	w := campaign.DayWindow(day)
	assert.True(t, w.Contains(bucket))
	assert.False(t, w.Contains(bucket.AddDate(0, 0, 1)))
	assert.True(t, campaign.Window{}.Contains(day))
}

func TestParseBound(t *testing.T) {
	t.Run("empty is unbounded", func(t *testing.T) {
		got, err := campaign.ParseBound("", true)

		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("date as start", func(t *testing.T) {
		got, err := campaign.ParseBound("2025-01-31", false)

		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), *got)
	})

	t.Run("date as end covers the whole day", func(t *testing.T) {
		got, err := campaign.ParseBound("2025-01-31", true)

		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), *got)
	})

	t.Run("timestamp is exact", func(t *testing.T) {
		got, err := campaign.ParseBound("2025-01-31T12:30:00Z", true)

		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 1, 31, 12, 30, 0, 0, time.UTC), *got)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := campaign.ParseBound("yesterday", false)

		assert.ErrorIs(t, err, campaign.ErrValidation)
	})
}

func TestValidate(t *testing.T) {
	type input struct {
		Name    string           `validate:"required,max=10"`
		Variant campaign.Variant `validate:"variant"`
	}

	require.NoError(t, campaign.Validate(input{Name: "ok", Variant: campaign.VariantSurvey}))

	err := campaign.Validate(input{Name: "", Variant: "bogus"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, campaign.ErrValidation))
	assert.Contains(t, err.Error(), "name")
	assert.Contains(t, err.Error(), "variant")
}
