package imgload

import (
	"bytes"
	"debug/elf"
	"fmt"
)

// ResourceTableSectionName is the section-name convention for locating the
// resource table in an ELF-like image (spec §4.4 "the resource table is
// located by the format-specific locator (section-name convention for
// ELF-like inputs)").
const ResourceTableSectionName = ".resource_table"

// LocateResourceTable returns the bytes of the named section, or an error
// if the image isn't ELF-like or has no such section. Raw-blob images have
// no section table at all; callers must obtain the resource table's
// location out of band for those (e.g. a fixed offset supplied by config).
func LocateResourceTable(data []byte) ([]byte, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, &FormatError{Reason: "not an ELF image", Err: err}
	}
	sec := f.Section(ResourceTableSectionName)
	if sec == nil {
		return nil, fmt.Errorf("imgload: no %s section", ResourceTableSectionName)
	}
	return sec.Data()
}
