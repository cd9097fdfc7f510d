// Package container implements the .bdb on-disk format: a fixed header, a
// stream of length-prefixed log entries, and a statistics footer, each
// protected by an IEEE CRC32.
package container

import "fmt"

// TableType identifies which browser-local data a .bdb file holds. A file
// belongs to exactly one table type and must not be read as another.
type TableType uint8

const (
	History    TableType = 1
	Cookies    TableType = 2
	Cache      TableType = 3
	LocalStore TableType = 4
	Settings   TableType = 5
)

// Name returns the lower-case enum variant name used in the filename
// contract ({table-type-name}_{level}_{creation-ms}_{entry-count}.bdb).
func (t TableType) Name() string {
	switch t {
	case History:
		return "history"
	case Cookies:
		return "cookies"
	case Cache:
		return "cache"
	case LocalStore:
		return "localstore"
	case Settings:
		return "settings"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

func (t TableType) String() string { return t.Name() }

// IsValid reports whether t is one of the five defined table types.
func (t TableType) IsValid() bool {
	switch t {
	case History, Cookies, Cache, LocalStore, Settings:
		return true
	default:
		return false
	}
}

// ParseTableTypeName maps a filename's table-type segment back to a
// TableType, the inverse of Name.
func ParseTableTypeName(name string) (TableType, bool) {
	switch name {
	case "history":
		return History, true
	case "cookies":
		return Cookies, true
	case "cache":
		return Cache, true
	case "localstore":
		return LocalStore, true
	case "settings":
		return Settings, true
	default:
		return 0, false
	}
}
