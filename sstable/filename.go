package sstable

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/browserdb/browserdb/container"
	"github.com/browserdb/browserdb/internal/errs"
)

// Name builds a filename following the contract
// {table-type-name}_{level}_{creation-ms}_{entry-count}.bdb.
func Name(tableType container.TableType, level int, creationMs int64, entryCount uint64) string {
	return fmt.Sprintf("%s_%d_%d_%d.bdb", tableType.Name(), level, creationMs, entryCount)
}

// Meta is the metadata a filename encodes, recovered by ParseName.
type Meta struct {
	TableType  container.TableType
	Level      int
	CreationMs int64
	EntryCount uint64
}

// ParseName parses a filename built by Name. It does not touch the
// filesystem or the file's header; callers that open the file afterward
// must additionally check that the header's table type matches, per the
// filename contract's requirement that parsers reject a mismatch.
func ParseName(filename string) (Meta, error) {
	base := strings.TrimSuffix(filename, ".bdb")
	if base == filename {
		return Meta{}, errs.New(errs.KindInvalidHeader, "filename missing .bdb suffix")
	}

	parts := strings.Split(base, "_")
	if len(parts) != 4 {
		return Meta{}, errs.New(errs.KindInvalidHeader, "filename does not match the naming contract")
	}

	tt, ok := container.ParseTableTypeName(parts[0])
	if !ok {
		return Meta{}, errs.New(errs.KindInvalidHeader, "unknown table-type name in filename")
	}
	level, err := strconv.Atoi(parts[1])
	if err != nil {
		return Meta{}, errs.Wrap(errs.KindInvalidHeader, "level segment", err)
	}
	creationMs, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Meta{}, errs.Wrap(errs.KindInvalidHeader, "creation-ms segment", err)
	}
	entryCount, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return Meta{}, errs.Wrap(errs.KindInvalidHeader, "entry-count segment", err)
	}

	return Meta{TableType: tt, Level: level, CreationMs: creationMs, EntryCount: entryCount}, nil
}

// MatchesHeader reports whether m's table type agrees with the file's
// actual header table type, the check ParseName's doc comment requires
// callers to perform after opening the file.
func (m Meta) MatchesHeader(headerTableType container.TableType) bool {
	return m.TableType == headerTableType
}
