package delivery

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/sitewatch-cli/internal/model"
)

var reportHeader = []string{
	"name", "website", "phone", "address", "city", "category",
	"score", "tier", "reasons", "first_seen", "last_seen",
}

func reportRow(l model.Lead) []string {
	return []string{
		l.Name, l.Website, l.Phone, l.Address, l.City, l.Category,
		strconv.Itoa(l.Score), string(l.Tier), strings.Join(l.Reasons, ";"),
		l.FirstSeen.UTC().Format("2006-01-02"), l.LastSeen.UTC().Format("2006-01-02"),
	}
}

// WriteCSV writes a lead report to path.
func WriteCSV(path string, leads []model.Lead) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "delivery: create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(reportHeader); err != nil {
		return eris.Wrap(err, "delivery: write header")
	}
	for _, l := range leads {
		if err := w.Write(reportRow(l)); err != nil {
			return eris.Wrapf(err, "delivery: write row %s", l.PlaceID)
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "delivery: flush csv")
}

// WriteXLSX writes a lead report workbook with one "Leads" sheet.
func WriteXLSX(path string, leads []model.Lead) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	if err != nil {
		return eris.Wrap(err, "delivery: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range reportHeader {
		header.AddCell().Value = col
	}

	for _, l := range leads {
		row := sheet.AddRow()
		row.AddCell().Value = l.Name
		row.AddCell().Value = l.Website
		row.AddCell().Value = l.Phone
		row.AddCell().Value = l.Address
		row.AddCell().Value = l.City
		row.AddCell().Value = l.Category
		row.AddCell().SetInt(l.Score)
		row.AddCell().Value = string(l.Tier)
		row.AddCell().Value = strings.Join(l.Reasons, ";")
		row.AddCell().Value = l.FirstSeen.UTC().Format("2006-01-02")
		row.AddCell().Value = l.LastSeen.UTC().Format("2006-01-02")
	}

	return eris.Wrapf(f.Save(path), "delivery: save %s", path)
}
