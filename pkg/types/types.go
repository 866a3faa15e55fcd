package types

import (
	"sort"
	"time"
)

type FileID string

// UnknownSize marks a record whose declared size was missing or not a number.
const UnknownSize int64 = -1

// Capability names one permission a remote record must grant before it may be
// repaired.
type Capability string

const (
	CapabilityEdit     Capability = "Edit"
	CapabilityCopy     Capability = "Copy"
	CapabilityDelete   Capability = "Delete"
	CapabilityDownload Capability = "Download"
)

// RequiredCapabilities lists every capability remediation depends on, in
// reporting order.
var RequiredCapabilities = []Capability{
	CapabilityEdit,
	CapabilityCopy,
	CapabilityDelete,
	CapabilityDownload,
}

type Capabilities struct {
	CanEdit     bool
	CanCopy     bool
	CanDelete   bool
	CanDownload bool
}

// Has reports whether the capability flag is set.
func (c Capabilities) Has(capability Capability) bool {
	switch capability {
	case CapabilityEdit:
		return c.CanEdit
	case CapabilityCopy:
		return c.CanCopy
	case CapabilityDelete:
		return c.CanDelete
	case CapabilityDownload:
		return c.CanDownload
	default:
		return false
	}
}

// Missing returns the required capabilities that are not granted.
func (c Capabilities) Missing() []Capability {
	var missing []Capability
	for _, capability := range RequiredCapabilities {
		if !c.Has(capability) {
			missing = append(missing, capability)
		}
	}
	return missing
}

// FullCapabilities grants everything; stores without a permission model use it.
func FullCapabilities() Capabilities {
	return Capabilities{CanEdit: true, CanCopy: true, CanDelete: true, CanDownload: true}
}

// RemoteFile is a metadata snapshot of one file in remote storage. It is
// never mutated after lookup; operations that change the remote side return a
// new RemoteFile.
type RemoteFile struct {
	ID           FileID
	Name         string
	MimeType     string
	MD5Checksum  string // hex, as declared by the store; not trusted
	Size         int64  // UnknownSize when the store reported nothing usable
	Version      int64
	Parents      []string
	SharedWithMe time.Time // zero unless the file was shared with the caller
	ModifiedTime time.Time
	Capabilities Capabilities
}

// IsShared reports whether the record carries a shared-with-me timestamp.
func (f RemoteFile) IsShared() bool {
	return !f.SharedWithMe.IsZero()
}

// PrimaryParent returns the first parent container or "" when there is none.
func (f RemoteFile) PrimaryParent() string {
	if len(f.Parents) == 0 {
		return ""
	}
	return f.Parents[0]
}

// HasKnownSize reports whether Size can be used for progress computation.
func (f RemoteFile) HasKnownSize() bool {
	return f.Size > 0
}

// MatchSet maps a filename to the records found for it. A present key with
// no records means the lookup found nothing; an absent key means the name was
// never looked up.
type MatchSet map[string][]RemoteFile

// Lookup returns the records for name and whether name was looked up at all.
func (m MatchSet) Lookup(name string) ([]RemoteFile, bool) {
	files, ok := m[name]
	return files, ok
}

// Names returns the looked-up filenames in ascending order.
func (m MatchSet) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the total number of records across all names.
func (m MatchSet) Count() int {
	total := 0
	for _, files := range m {
		total += len(files)
	}
	return total
}
