package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"gridreg/pkg/domain"
)

const timestampLayout = "2006-01-02 15:04"

// renderEntries writes a per-kind table of catalog rows. Listing output is the
// one place the CLI prints tables; everything else is single-line results or
// JSON.
func renderEntries(w io.Writer, kind domain.EntityKind, entries []domain.CatalogEntry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()
	switch kind {
	case domain.EntityProject:
		fmt.Fprintln(tw, "ID\tNAME\tVERSION\tSTATUS\tDATASETS\tSUBMITTER\tUPDATED")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
				e.ID, e.Name, e.Version, e.Status,
				registeredSlots(e.Datasets), len(e.Datasets),
				e.Submitter, e.UpdatedAt.UTC().Format(timestampLayout))
		}
	case domain.EntityDimension:
		fmt.Fprintln(tw, "ID\tTYPE\tNAME\tVERSION\tSUBMITTER\tUPDATED")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.ID, e.DimensionType, e.Name, e.Version,
				e.Submitter, e.UpdatedAt.UTC().Format(timestampLayout))
		}
	default:
		fmt.Fprintln(tw, "ID\tNAME\tVERSION\tSUBMITTER\tUPDATED")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				e.ID, e.Name, e.Version,
				e.Submitter, e.UpdatedAt.UTC().Format(timestampLayout))
		}
	}
}

func registeredSlots(slots []domain.DatasetSlot) int {
	n := 0
	for _, slot := range slots {
		if slot.Status == domain.SlotRegistered {
			n++
		}
	}
	return n
}
