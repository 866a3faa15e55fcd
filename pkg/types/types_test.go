package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCapabilitiesMissing(t *testing.T) {
	tests := []struct {
		name     string
		caps     Capabilities
		expected []Capability
	}{
		{"all granted", FullCapabilities(), nil},
		{"none granted", Capabilities{}, []Capability{CapabilityEdit, CapabilityCopy, CapabilityDelete, CapabilityDownload}},
		{"no edit", Capabilities{CanCopy: true, CanDelete: true, CanDownload: true}, []Capability{CapabilityEdit}},
		{"no copy or download", Capabilities{CanEdit: true, CanDelete: true}, []Capability{CapabilityCopy, CapabilityDownload}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.caps.Missing())
		})
	}
}

func TestRemoteFileHelpers(t *testing.T) {
	f := RemoteFile{ID: "1", Name: "a.mp4", Size: UnknownSize}
	assert.False(t, f.IsShared())
	assert.False(t, f.HasKnownSize())
	assert.Equal(t, "", f.PrimaryParent())

	f = RemoteFile{ID: "2", Size: 10, Parents: []string{"p1", "p2"}, SharedWithMe: time.Now()}
	assert.True(t, f.IsShared())
	assert.True(t, f.HasKnownSize())
	assert.Equal(t, "p1", f.PrimaryParent())
}

func TestMatchSetDistinguishesEmptyFromAbsent(t *testing.T) {
	m := MatchSet{
		"b.mp4": {{ID: "1"}, {ID: "2"}},
		"a.mp4": {},
	}

	files, ok := m.Lookup("a.mp4")
	assert.True(t, ok)
	assert.Empty(t, files)

	_, ok = m.Lookup("c.mp4")
	assert.False(t, ok)

	assert.Equal(t, []string{"a.mp4", "b.mp4"}, m.Names())
	assert.Equal(t, 2, m.Count())
}
