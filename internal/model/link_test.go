package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndExpire(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	tests := []struct {
		name        string
		link        Link
		wantActive  bool
		wantChanged bool
	}{
		{"never expires", Link{IsActive: true}, true, false},
		{"future expiry", Link{IsActive: true, ExpiresAt: &future}, true, false},
		{"past expiry", Link{IsActive: true, ExpiresAt: &past}, false, true},
		{"expiry equals now", Link{IsActive: true, ExpiresAt: &now}, false, true},
		{"already inactive", Link{IsActive: false, ExpiresAt: &past}, false, false},
		{"inactive without expiry stays inactive", Link{IsActive: false}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := CheckAndExpire(tt.link, now)
			assert.Equal(t, tt.wantActive, got.IsActive)
			assert.Equal(t, tt.wantChanged, changed)
		})
	}
}

func TestCheckAndExpire_DoesNotMutateInput(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	l := Link{IsActive: true, ExpiresAt: &past}

	_, changed := CheckAndExpire(l, now)

	assert.True(t, changed)
	assert.True(t, l.IsActive)
}

func TestLink_IdentifierAndKeys(t *testing.T) {
	l := Link{ShortCode: "aB3dE5fG"}
	assert.Equal(t, "aB3dE5fG", l.Identifier())
	assert.Equal(t, []string{"aB3dE5fG"}, l.Keys())

	alias := "my-link"
	l.CustomAlias = &alias
	assert.Equal(t, "my-link", l.Identifier())
	assert.Equal(t, []string{"aB3dE5fG", "my-link"}, l.Keys())
}

func TestNewClickEvent_Defaults(t *testing.T) {
	at := time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("CST", 8*3600))

	ev := NewClickEvent(at, "", "", "")
	assert.Nil(t, ev.UserAgent)
	assert.Nil(t, ev.IPAddress)
	assert.Equal(t, DirectReferrer, ev.Referrer)
	assert.Equal(t, time.UTC, ev.ClickedAt.Location())

	ev = NewClickEvent(at, "curl/8.0", "10.0.0.1", "https://news.ycombinator.com")
	assert.Equal(t, "curl/8.0", *ev.UserAgent)
	assert.Equal(t, "10.0.0.1", *ev.IPAddress)
	assert.Equal(t, "https://news.ycombinator.com", ev.Referrer)
}

func TestHashURL_Stable(t *testing.T) {
	assert.Equal(t, HashURL("https://example.com"), HashURL("https://example.com"))
	assert.NotEqual(t, HashURL("https://example.com"), HashURL("https://example.org"))
	assert.Len(t, HashURL("x"), 64)
}

func TestLink_IsResolvable(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		link Link
		want bool
	}{
		{"active without expiry", Link{IsActive: true}, true},
		{"active before expiry", Link{IsActive: true, ExpiresAt: &future}, true},
		{"active at expiry instant", Link{IsActive: true, ExpiresAt: &now}, false},
		{"inactive", Link{IsActive: false, ExpiresAt: &future}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.link.IsResolvable(now))
		})
	}
}
