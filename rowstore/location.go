package rowstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/indexlake/indexlake/columnar"
)

// InlineLocation is the literal location value for a row stored in the
// inline tier.
const InlineLocation = "inline"

const externalPrefix = "parquet:"

// Location is the decoded form of a rowmeta row's location column. A
// Location is either inline, or external and carries the columnar file's
// relative path plus the row's address inside it.
type Location struct {
	Inline bool
	Path   string
	Addr   columnar.Address
}

// FormatLocation encodes loc back to its stored string form.
func FormatLocation(loc Location) string {
	if loc.Inline {
		return InlineLocation
	}
	return fmt.Sprintf("%s%s:%d:%d", externalPrefix, loc.Path, loc.Addr.RowGroup, loc.Addr.RowOffsetInGroup)
}

// FormatExternalLocation is a convenience for the dump task, which
// builds one location string per dumped row from the file path and the
// address the columnar writer returned for that row.
func FormatExternalLocation(path string, addr columnar.Address) string {
	return FormatLocation(Location{Path: path, Addr: addr})
}

// ParseLocation decodes a stored location string. To tolerate any future
// path-escaping scheme, the split does not use strings.Split on the whole
// string — it only ever looks at the first three colons.
func ParseLocation(s string) (Location, error) {
	if s == InlineLocation {
		return Location{Inline: true}, nil
	}
	if !strings.HasPrefix(s, externalPrefix) {
		return Location{}, fmt.Errorf("rowstore: location %q has unknown prefix", s)
	}
	rest := strings.TrimPrefix(s, externalPrefix)
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return Location{}, fmt.Errorf("rowstore: location %q is malformed: want path:row_group:row_offset", s)
	}
	path := parts[0]
	rowGroup, err := strconv.Atoi(parts[1])
	if err != nil || rowGroup < 0 {
		return Location{}, fmt.Errorf("rowstore: location %q has invalid row_group: %v", s, err)
	}
	rowOffset, err := strconv.Atoi(parts[2])
	if err != nil || rowOffset < 0 {
		return Location{}, fmt.Errorf("rowstore: location %q has invalid row_offset: %v", s, err)
	}
	return Location{Path: path, Addr: columnar.Address{RowGroup: rowGroup, RowOffsetInGroup: rowOffset}}, nil
}

// FilePath returns the file-path component of s without fully decoding
// the row group/offset, used by scan's grouping step.
func FilePath(s string) (string, bool) {
	if !strings.HasPrefix(s, externalPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(s, externalPrefix)
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return "", false
	}
	return parts[0], true
}
