package transform

import (
	"context"
	"fmt"
	"io"
	"log"

	"skyetl/internal/datasource"
	pcsv "skyetl/internal/parser/csv"
	"skyetl/internal/schema"
	"skyetl/pkg/records"
)

// airportFields maps airport-codes.csv headers to the column suffix used on
// enriched flights. The join key is ident, which matches OpenSky's estimated
// airport codes.
var airportFields = []struct {
	header string
	suffix string
	typ    schema.Type
}{
	{"type", "type", schema.Text},
	{"name", "airport_name", schema.Text},
	{"elevation_ft", "elevation_ft", schema.Integer},
	{"continent", "continent", schema.Text},
	{"iso_country", "country", schema.Text},
	{"iso_region", "iso_region", schema.Text},
	{"municipality", "municipality", schema.Text},
	{"icao_code", "icao_code", schema.Text},
	{"iata_code", "iata_code", schema.Text},
	{"gps_code", "gps_code", schema.Text},
	{"local_code", "local_code", schema.Text},
	{"coordinates", "coordinates", schema.Text},
}

// AirportColumns returns the nullable enrichment columns for prefix
// ("departure_" or "arrival_").
func AirportColumns(prefix string) []schema.Column {
	cols := make([]schema.Column, 0, len(airportFields))
	for _, f := range airportFields {
		cols = append(cols, schema.Column{Name: prefix + f.suffix, Type: f.typ, Nullable: true})
	}
	return cols
}

// Airports indexes airport rows by ident.
type Airports map[string]records.Record

// LoadAirportsFrom opens src and calls LoadAirports.
func LoadAirportsFrom(ctx context.Context, src datasource.Source) (Airports, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("airports: %w", err)
	}
	defer rc.Close()
	return LoadAirports(rc)
}

// LoadAirports parses an airport-codes CSV with a header row. Rows without an
// ident are skipped; a later duplicate ident replaces an earlier one.
func LoadAirports(r io.Reader) (Airports, error) {
	p := pcsv.NewParser(pcsv.Options{HasHeader: true, TrimSpace: true})
	rows, skipped, err := p.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("airports: %w", err)
	}
	rows = Chain{
		Normalize{},
		Coerce{Types: map[string]string{"elevation_ft": "int"}},
		Require{Fields: []string{"ident"}, Dropped: &skipped},
	}.Apply(rows)

	out := make(Airports, len(rows))
	for _, row := range rows {
		out[fmt.Sprint(row["ident"])] = row
	}
	if skipped > 0 {
		log.Printf("airports: loaded %d, skipped %d rows", len(out), skipped)
	}
	return out, nil
}

// Enrich adds departure_ and arrival_ airport columns to each flight record,
// looked up by estDepartureAirport and estArrivalAirport. Every enrichment
// column is set, to nil when the airport is unknown.
type Enrich struct {
	Airports Airports
}

func (e Enrich) Apply(in []records.Record) []records.Record {
	for _, rec := range in {
		e.fill(rec, departurePrefix, rec[ColDepartureAirport])
		e.fill(rec, arrivalPrefix, rec[ColArrivalAirport])
	}
	return in
}

func (e Enrich) fill(rec records.Record, prefix string, code any) {
	var ap records.Record
	if s, ok := code.(string); ok {
		ap = e.Airports[s]
	}
	for _, f := range airportFields {
		if ap == nil {
			rec[prefix+f.suffix] = nil
			continue
		}
		rec[prefix+f.suffix] = ap[f.header]
	}
}
